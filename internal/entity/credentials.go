package entity

import "strings"

type Credentials struct {
	AccessKey string
	SecretKey string
}

func (c Credentials) IsEmpty() bool {
	return strings.TrimSpace(c.AccessKey) == "" || strings.TrimSpace(c.SecretKey) == ""
}

// Wipe clears the key material held by c.
func (c *Credentials) Wipe() {
	if c == nil {
		return
	}
	c.AccessKey = ""
	c.SecretKey = ""
}

// MaskedAccessKey keeps the first four characters for log lines.
func (c Credentials) MaskedAccessKey() string {
	key := strings.TrimSpace(c.AccessKey)
	if len(key) <= 4 {
		return "****"
	}
	return key[:4] + "****"
}

type AuthToken struct {
	Header    string
	Payload   string
	Signature string
}

func (t AuthToken) String() string {
	return t.Header + "." + t.Payload + "." + t.Signature
}

func (t AuthToken) BearerHeader() string {
	return "Bearer " + t.String()
}

// AuthTokenPayload is the claim set carried in every signed request.
type AuthTokenPayload struct {
	AccessKey    string `json:"access_key"`
	Nonce        string `json:"nonce"`
	QueryHash    string `json:"query_hash,omitempty"`
	QueryHashAlg string `json:"query_hash_alg,omitempty"`
}

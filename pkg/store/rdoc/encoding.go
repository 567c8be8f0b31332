package rdoc

import "encoding/base64"

// bytesToBase64 and base64ToBytes encode the single-transaction
// snapshot fallback. encoding/base64 is the standard routine for this;
// no third-party dependency does it differently.
func bytesToBase64(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

func base64ToBytes(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}

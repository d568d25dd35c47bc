package pwmbox

import (
	"bytes"
	"fmt"
	"strings"
)

var crlf = []byte{13, 10}

func trimCRLF(buf []byte) []byte {
	buf = bytes.TrimSuffix(buf, crlf[1:])
	return bytes.TrimSuffix(buf, crlf[:1])
}

// truncate cuts s to at most n characters.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// checkName rejects names that would break line framing. A slot name
// is the last field of its line and may hold separators.
func checkName(field, name string, lastField bool) error {
	forbidden := "\r\n"
	if !lastField {
		forbidden += Separator
	}
	if strings.ContainsAny(name, forbidden) {
		if lastField {
			return fmt.Errorf("%s %q: must not contain line breaks", field, name)
		}
		return fmt.Errorf("%s %q: must not contain ',' or line breaks", field, name)
	}
	return nil
}

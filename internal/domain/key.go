package domain

import (
	"net/url"
	"strings"
)

// keyEscaper экранирует разделители составных ключей внутри компонента.
// '%' экранируется первым, поэтому кодирование обратимо и инъективно.
// Компоненты без этих символов не меняются.
var keyEscaper = strings.NewReplacer(
	"%", "%25",
	"_", "%5F",
	"/", "%2F",
	".", "%2E",
)

// escapeKeyPart кодирует компонент ключа (группа, имя flow, имя job).
func escapeKeyPart(s string) string {
	return keyEscaper.Replace(s)
}

// unescapeKeyPart — обратное к escapeKeyPart.
func unescapeKeyPart(s string) (string, error) {
	return url.PathUnescape(s)
}

// Package parser extracts sale fields from free-text payment notifications.
//
// Notifications look like:
//
//	✅ Pagamento aprovado
//	Nome: Maria Silva
//	Email: maria@example.com
//	ID Transação Gateway: 9f0c2b1e-8d4a-4c6e-9b7a-1f2e3d4c5b6a
//	Valor Líquido: R$ 1.234,56
//	Método de Pagamento: PIX
//
// Messages without a transaction id and a positive amount are not sales.
package parser

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// Unknown is the value of optional fields that were not found.
const Unknown = "unknown"

// Sale is a payment notification reduced to its fields.
type Sale struct {
	TransactionID string
	Amount        decimal.Decimal

	CustomerName  string
	CustomerEmail string
	PaymentMethod string
	Platform      string

	// Token is an explicit correlation token carried in the message, if any.
	Token string
}

var (
	transactionRe = regexp.MustCompile(`(?im)\b(?:ID\s+Transa(?:ção|cao|çao|ction)(?:\s+Gateway)?|Transaction\s+ID)\s*:\s*([A-Za-z0-9-]+)`)
	netAmountRe   = regexp.MustCompile(`(?im)\bValor[^\S\n]+L[íi]quido[^\S\n]*:[^\S\n]*(.*)$`)
	grossAmountRe = regexp.MustCompile(`(?im)\bValor[^\S\n]*:[^\S\n]*(.*)$`)
	numberRe      = regexp.MustCompile(`^-?[0-9][0-9.,]*$`)
	uuidRe        = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

	nameRe     = regexp.MustCompile(`(?im)\b(?:Nome|Cliente)\s*:[^\S\n]*(.+)$`)
	emailRe    = regexp.MustCompile(`(?im)\bE-?mail\s*:\s*([^\s@]+@[^\s@]+\.[^\s@]+)`)
	methodRe   = regexp.MustCompile(`(?im)\b(?:M[ée]todo\s+de\s+Pagamento|Pagamento|Forma\s+de\s+Pagamento)\s*:[^\S\n]*(.+)$`)
	platformRe = regexp.MustCompile(`(?im)\bPlataforma\s*:[^\S\n]*(.+)$`)
	tokenRe    = regexp.MustCompile(`(?im)\b(?:fbclid|Token|Click\s*ID)\s*:\s*([A-Za-z0-9_.\-]+)`)
)

const minTransactionIDLen = 10

// Parser extracts sales from notification text.
type Parser struct {
	// Strict accepts only canonical UUID transaction ids.
	Strict bool
}

// Parse returns the sale found in text. The second result is false when
// text is not a sale notification; that is not an error.
func (p Parser) Parse(text string) (Sale, bool) {
	txid, ok := p.transactionID(text)
	if !ok {
		return Sale{}, false
	}

	amount, ok := extractAmount(text)
	if !ok {
		return Sale{}, false
	}

	return Sale{
		TransactionID: txid,
		Amount:        amount,
		CustomerName:  capture(nameRe, text),
		CustomerEmail: capture(emailRe, text),
		PaymentMethod: capture(methodRe, text),
		Platform:      capture(platformRe, text),
		Token:         optional(tokenRe, text),
	}, true
}

func (p Parser) transactionID(text string) (string, bool) {
	m := transactionRe.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	id := m[1]
	if p.Strict {
		return id, uuidRe.MatchString(id)
	}
	return id, len(id) >= minTransactionIDLen
}

// extractAmount reads the net value, falling back to the gross line only when no
// net line exists. The number must fill the rest of its line; "1 234,56"
// is rejected rather than read as 1.
func extractAmount(text string) (decimal.Decimal, bool) {
	m := netAmountRe.FindStringSubmatch(text)
	if m == nil {
		m = grossAmountRe.FindStringSubmatch(text)
	}
	if m == nil {
		return decimal.Zero, false
	}
	v := strings.TrimSpace(m[1])
	v = strings.TrimSpace(strings.TrimPrefix(v, "R$"))
	if !numberRe.MatchString(v) {
		return decimal.Zero, false
	}
	return ParseAmount(v)
}

// ParseAmount parses a pt-BR formatted number ("1.234,56"): dots are
// thousands separators and the comma is the decimal point. Values that do
// not parse or are not positive are reported as absent.
func ParseAmount(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "R$")
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, ".", "")
	s = strings.Replace(s, ",", ".", 1)
	if s == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil || !d.IsPositive() {
		return decimal.Zero, false
	}
	return d, true
}

func capture(re *regexp.Regexp, text string) string {
	if v := optional(re, text); v != "" {
		return v
	}
	return Unknown
}

func optional(re *regexp.Regexp, text string) string {
	m := re.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

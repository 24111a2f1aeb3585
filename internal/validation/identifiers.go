// Package validation содержит функции нормализации и проверки входных данных.
package validation

import (
	"net/mail"
	"regexp"
	"strings"
	"unicode"
)

var customerIDPattern = regexp.MustCompile(`^KC-\d{8}$`)

// NormalizeCouponCode приводит код купона к каноническому виду: без пробелов, в верхнем регистре.
func NormalizeCouponCode(code string) string {
	return strings.ToUpper(strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, code))
}

// IsCustomerID проверяет формат номера клиента (KC-12345678).
func IsCustomerID(identifier string) bool {
	return customerIDPattern.MatchString(strings.ToUpper(strings.TrimSpace(identifier)))
}

// IsEmail проверяет, что строка является одиночным email-адресом.
func IsEmail(identifier string) bool {
	identifier = strings.TrimSpace(identifier)
	addr, err := mail.ParseAddress(identifier)
	return err == nil && addr.Address == identifier
}

// NormalizeIdentifier подготавливает идентификатор пользователя (id, номер клиента или email) к поиску.
func NormalizeIdentifier(identifier string) string {
	identifier = strings.TrimSpace(identifier)
	switch {
	case IsCustomerID(identifier):
		return strings.ToUpper(identifier)
	case IsEmail(identifier):
		return strings.ToLower(identifier)
	default:
		return identifier
	}
}

package config

import (
	"errors"
	"regexp"
)

var (
	jaasUsername = regexp.MustCompile(`username\s*=\s*"([^"]*)"`)
	jaasPassword = regexp.MustCompile(`password\s*=\s*"([^"]*)"`)
)

// ParseJAAS extracts the credentials of a PlainLoginModule sasl.jaas.config
// entry such as
//
//	org.apache.kafka.common.security.plain.PlainLoginModule required username="u" password="p";
func ParseJAAS(jaas string) (string, string, error) {
	user := jaasUsername.FindStringSubmatch(jaas)
	pass := jaasPassword.FindStringSubmatch(jaas)
	if user == nil || pass == nil {
		return "", "", errors.New("sasl.jaas.config must set username and password")
	}
	return user[1], pass[1], nil
}

func redactJAAS(jaas string) string {
	return jaasPassword.ReplaceAllString(jaas, `password="***REDACTED***"`)
}

package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"historical/internal/apperrors"
)

// Storage modes for delivered data.
const (
	StorageFiles    = "files"
	StorageDatabase = "database"
)

// Account holds the provider account credentials and stream parameters.
type Account struct {
	Name            string
	Username        string
	PasswordEncoded string // base64 of the account password
	StreamType      string
	Storage         string
	OutputFolder    string
}

// accountFile mirrors the on-disk YAML layout.
type accountFile struct {
	Account struct {
		AccountName     string `yaml:"account_name"`
		UserName        string `yaml:"user_name"`
		PasswordEncoded string `yaml:"password_encoded"`
		Password        string `yaml:"password"`
	} `yaml:"account"`
	Historical struct {
		StreamType   string `yaml:"stream_type"`
		Storage      string `yaml:"storage"`
		OutputFolder string `yaml:"output_folder"`
	} `yaml:"historical"`
}

// LoadAccount reads an account configuration file.
func LoadAccount(path string) (*Account, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.Config("config", fmt.Sprintf("cannot read account file: %v", err))
	}
	return ParseAccount(data)
}

// ParseAccount parses account YAML. A plain-text password is encoded here so the
// rest of the program only ever handles the encoded form.
func ParseAccount(data []byte) (*Account, error) {
	var raw accountFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, apperrors.Config("config", fmt.Sprintf("invalid account YAML: %v", err))
	}

	acct := &Account{
		Name:            strings.TrimSpace(raw.Account.AccountName),
		Username:        strings.TrimSpace(raw.Account.UserName),
		PasswordEncoded: strings.TrimSpace(raw.Account.PasswordEncoded),
		StreamType:      strings.TrimSpace(raw.Historical.StreamType),
		Storage:         strings.ToLower(strings.TrimSpace(raw.Historical.Storage)),
		OutputFolder:    strings.TrimSpace(raw.Historical.OutputFolder),
	}
	if acct.PasswordEncoded == "" && raw.Account.Password != "" {
		acct.PasswordEncoded = base64.StdEncoding.EncodeToString([]byte(raw.Account.Password))
	}
	if acct.Storage == "" {
		acct.Storage = StorageFiles
	}
	if acct.OutputFolder == "" {
		acct.OutputFolder = "./output"
	}

	if err := acct.Validate(); err != nil {
		return nil, err
	}
	return acct, nil
}

// Validate checks that the account can authenticate and names a known storage mode.
func (a *Account) Validate() error {
	if a.Name == "" {
		return apperrors.Config("account.account_name", "account name is required")
	}
	if a.Username == "" {
		return apperrors.Config("account.user_name", "user name is required")
	}
	if a.PasswordEncoded == "" {
		return apperrors.Config("account.password", "password or password_encoded is required")
	}
	if _, err := a.Password(); err != nil {
		return apperrors.Config("account.password_encoded", "password_encoded is not valid base64")
	}
	if a.StreamType == "" {
		return apperrors.Config("historical.stream_type", "stream type is required")
	}
	if a.Storage != StorageFiles && a.Storage != StorageDatabase {
		return apperrors.Config("historical.storage", fmt.Sprintf("storage must be %q or %q, got %q", StorageFiles, StorageDatabase, a.Storage))
	}
	return nil
}

// Password decodes the stored password.
// Encoders commonly wrap long values, so embedded newlines are ignored.
func (a *Account) Password() (string, error) {
	cleaned := strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' {
			return -1
		}
		return r
	}, a.PasswordEncoded)
	decoded, err := base64.StdEncoding.DecodeString(cleaned)
	if err != nil {
		return "", err
	}
	return string(decoded), nil
}

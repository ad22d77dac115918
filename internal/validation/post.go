// Package validation provides input validation utilities
package validation

import (
	"errors"
	"strings"
	"unicode/utf8"

	"noticeboard/internal/models"
)

var (
	ErrTitleInvalid     = errors.New("タイトルは必須で、150文字以内である必要があります")
	ErrContentRequired  = errors.New("内容は必須です")
	ErrReplyRequired    = errors.New("返信内容は必須です")
	ErrNameRequired     = errors.New("名前は必須です")
	ErrNameTooLong      = errors.New("名前は100文字以内である必要があります")
	ErrEmailRequired    = errors.New("メールアドレスは必須です")
	ErrSignUpIncomplete = errors.New("メールアドレス、パスワード、名前は必須項目です")
	ErrPasswordTooShort = errors.New("パスワードは6文字以上である必要があります")
)

// ValidatePostTitle checks that a top-level post title is present and at most
// MaxTitleLength characters. Length is counted in runes.
func ValidatePostTitle(title string) error {
	if title == "" || utf8.RuneCountInString(title) > models.MaxTitleLength {
		return ErrTitleInvalid
	}
	return nil
}

// ValidatePostContent checks that post content is present.
func ValidatePostContent(content string) error {
	if content == "" {
		return ErrContentRequired
	}
	return nil
}

// ValidateReplyContent checks that reply content is present.
func ValidateReplyContent(content string) error {
	if content == "" {
		return ErrReplyRequired
	}
	return nil
}

// ValidateProfile checks the profile-edit fields. Name is checked first.
func ValidateProfile(name, email string) error {
	if strings.TrimSpace(name) == "" {
		return ErrNameRequired
	}
	if err := ValidateName(name); err != nil {
		return err
	}
	if strings.TrimSpace(email) == "" {
		return ErrEmailRequired
	}
	return nil
}

// ValidateName checks that a display name fits the profile column.
func ValidateName(name string) error {
	if utf8.RuneCountInString(name) > models.MaxNameLength {
		return ErrNameTooLong
	}
	return nil
}

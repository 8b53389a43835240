package session

import (
	"encoding/json"
	"fmt"
)

// FailureReason classifies why the account session cannot be established.
// Consumers use it to tell the user what to fix; only TokenRejected is
// recoverable by re-running the login flow with the same account.
type FailureReason string

const (
	// ReasonInvalidCredential covers plain bad username/password rejections.
	ReasonInvalidCredential FailureReason = "invalid_credential"
	// ReasonSocialAccount means the account authenticates through a social
	// provider (Google, Apple, ...) and cannot use password grants.
	ReasonSocialAccount FailureReason = "social_account"
	// ReasonTermsPending means LG requires the user to accept updated terms
	// of service in the mobile app before API access resumes.
	ReasonTermsPending FailureReason = "terms_pending"
	// ReasonTokenRejected means the stored refresh token is no longer valid.
	ReasonTokenRejected FailureReason = "token_rejected"
)

// EMP account error codes returned by the LG member platform.
const (
	empCodeSocialAccount = "MS.001.03"
	empCodeTermsPending  = "MS.001.48"
)

// AuthError is a terminal authentication failure. Retrying without user
// action will not succeed.
type AuthError struct {
	Reason  FailureReason
	Code    string
	Message string
}

func (e *AuthError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("auth failed (%s, code %s): %s", e.Reason, e.Code, e.Message)
	}
	return fmt.Sprintf("auth failed (%s): %s", e.Reason, e.Message)
}

// classifyAuthFailure maps a token endpoint error body to an AuthError.
// Bodies look like {"error":{"code":"MS.001.03","message":"..."}} on the
// EMP surface; anything unparseable is reported as a rejected token.
func classifyAuthFailure(status int, body []byte) *AuthError {
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Code != "" {
		switch envelope.Error.Code {
		case empCodeSocialAccount:
			return &AuthError{
				Reason:  ReasonSocialAccount,
				Code:    envelope.Error.Code,
				Message: "account uses social login; generate a refresh token via the ThinQ app flow",
			}
		case empCodeTermsPending:
			return &AuthError{
				Reason:  ReasonTermsPending,
				Code:    envelope.Error.Code,
				Message: "terms of service acceptance pending; open the ThinQ app and accept the updated terms",
			}
		default:
			return &AuthError{
				Reason:  ReasonInvalidCredential,
				Code:    envelope.Error.Code,
				Message: envelope.Error.Message,
			}
		}
	}

	return &AuthError{
		Reason:  ReasonTokenRejected,
		Message: fmt.Sprintf("token endpoint returned %d", status),
	}
}

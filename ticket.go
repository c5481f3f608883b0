package quizzly

import (
	"context"
	"errors"
)

// TicketIssuer exchanges the bearer access token for a connection ticket.
// A 401 must be reported as an error matching ErrUnauthorized.
type TicketIssuer interface {
	IssueTicket(ctx context.Context, sessionID SessionID) (ConnectionTicket, error)
}

// FetchTicket obtains a fresh ticket for one connection attempt. A missing or
// expired access token, or an Unauthorized answer, triggers one coordinated
// refresh followed by exactly one retry. Every failure is a *TicketError.
func FetchTicket(ctx context.Context, issuer TicketIssuer, creds CredentialSource, sessionID SessionID) (ConnectionTicket, error) {
	refreshed := false
	if _, ok := creds.AccessToken(); !ok {
		if _, err := creds.RefreshTokens(ctx); err != nil {
			return ConnectionTicket{}, &TicketError{SessionID: sessionID, Err: err}
		}
		refreshed = true
	}

	ticket, err := issuer.IssueTicket(ctx, sessionID)
	if err != nil && errors.Is(err, ErrUnauthorized) && !refreshed {
		if _, rerr := creds.RefreshTokens(ctx); rerr != nil {
			return ConnectionTicket{}, &TicketError{SessionID: sessionID, Err: rerr}
		}
		ticket, err = issuer.IssueTicket(ctx, sessionID)
	}
	if err != nil {
		return ConnectionTicket{}, &TicketError{SessionID: sessionID, Err: err}
	}
	return ticket, nil
}

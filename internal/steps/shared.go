// Package steps holds generic step definitions that work on the scenario's
// fixtures. Domain step libraries register alongside them.
package steps

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cucumber/godog"

	ctxmgr "github.com/shehryarbajwa/listing-harness/internal/context"
	"github.com/shehryarbajwa/listing-harness/internal/fixture"
)

var errNoPage = errors.New("scenario has no page; tag it @web-ui")

// Shared are the steps every feature can use
type Shared struct {
	baseURL  string
	contexts *ctxmgr.Manager
}

func NewShared(baseURL string, contexts *ctxmgr.Manager) *Shared {
	return &Shared{baseURL: baseURL, contexts: contexts}
}

// Register adds the shared steps to sc
func (s *Shared) Register(sc *godog.ScenarioContext) {
	sc.Step(`^I open "([^"]*)"$`, s.open)
	sc.Step(`^the page URL contains "([^"]*)"$`, s.urlContains)
	sc.Step(`^I am logged in as "([^"]*)"$`, s.loggedInAs)
	sc.Step(`^I have a session id$`, s.hasSessionID)
	sc.Step(`^I remember the listing id "([^"]*)"$`, s.rememberListing)
	sc.Step(`^the remembered listing id is "([^"]*)"$`, s.rememberedListing)
	sc.Step(`^I save the authentication state$`, s.saveAuthState)
	sc.Step(`^the scenario has no page$`, s.noPage)
}

func scenario(ctx context.Context) (*fixture.ScenarioContext, error) {
	sc, ok := fixture.FromContext(ctx)
	if !ok {
		return nil, errors.New("no scenario fixtures in context")
	}
	return sc, nil
}

func (s *Shared) open(ctx context.Context, path string) error {
	sc, err := scenario(ctx)
	if err != nil {
		return err
	}
	if sc.Page == nil {
		return errNoPage
	}
	url := path
	if !strings.HasPrefix(path, "http://") && !strings.HasPrefix(path, "https://") {
		url = strings.TrimSuffix(s.baseURL, "/") + "/" + strings.TrimPrefix(path, "/")
	}
	return sc.Page.Goto(url)
}

func (s *Shared) urlContains(ctx context.Context, fragment string) error {
	sc, err := scenario(ctx)
	if err != nil {
		return err
	}
	if sc.Page == nil {
		return errNoPage
	}
	if got := sc.Page.URL(); !strings.Contains(got, fragment) {
		return fmt.Errorf("page URL %q does not contain %q", got, fragment)
	}
	return nil
}

func (s *Shared) loggedInAs(ctx context.Context, account string) error {
	sc, err := scenario(ctx)
	if err != nil {
		return err
	}
	if !sc.Authenticated() {
		return fmt.Errorf("scenario is not authenticated; tag it @user=%s", account)
	}
	if sc.Account.AccountID != account {
		return fmt.Errorf("logged in as %q, want %q", sc.Account.AccountID, account)
	}
	return nil
}

func (s *Shared) hasSessionID(ctx context.Context) error {
	sc, err := scenario(ctx)
	if err != nil {
		return err
	}
	if sc.SessionID == "" {
		return errors.New("login returned no session id")
	}
	return nil
}

func (s *Shared) rememberListing(ctx context.Context, id string) error {
	sc, err := scenario(ctx)
	if err != nil {
		return err
	}
	sc.RememberListing(id)
	return nil
}

func (s *Shared) rememberedListing(ctx context.Context, id string) error {
	sc, err := scenario(ctx)
	if err != nil {
		return err
	}
	if got := sc.ListingID(); got != id {
		return fmt.Errorf("remembered listing id is %q, want %q", got, id)
	}
	return nil
}

func (s *Shared) saveAuthState(ctx context.Context) error {
	sc, err := scenario(ctx)
	if err != nil {
		return err
	}
	if !sc.Authenticated() || sc.Context == nil {
		return errors.New("nothing to save; scenario is not authenticated")
	}
	return s.contexts.SaveAuthState(sc.Context, s.contexts.AuthStatePath(sc.Account.AccountID))
}

func (s *Shared) noPage(ctx context.Context) error {
	sc, err := scenario(ctx)
	if err != nil {
		return err
	}
	if sc.Page != nil {
		return errors.New("scenario has a page")
	}
	return nil
}

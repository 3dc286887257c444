package ui

import (
	"errors"
	"fmt"
	"strings"
	"syscall"

	"github.com/telecomverify/telecom/internal/dispatch"
	"github.com/telecomverify/telecom/internal/provider"
)

// Problem is a startup failure the operator can fix, with the commands or
// config edits that usually do it.
type Problem struct {
	Title string
	Fixes []string
	Err   error
}

func (p *Problem) Error() string { return p.Title + ": " + p.Err.Error() }

func (p *Problem) Unwrap() error { return p.Err }

// Diagnose turns known startup errors into a Problem. port is the port
// the server was asked to bind. Other errors are returned unchanged.
func Diagnose(err error, port int) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, syscall.EADDRINUSE), strings.Contains(err.Error(), "address already in use"):
		return &Problem{
			Title: fmt.Sprintf("port %d is already in use", port),
			Fixes: []string{
				fmt.Sprintf("telecom start --port %d", port+1),
				fmt.Sprintf("TELECOM_SERVER_PORT=%d telecom start", port+1),
			},
			Err: err,
		}
	case errors.Is(err, dispatch.ErrNoProvidersConfigured):
		return &Problem{
			Title: "no carriers are configured",
			Fixes: []string{
				"add a [[providers]] entry to telecom.toml",
				"telecom config init --force   # restore the three mock carriers",
			},
			Err: err,
		}
	case errors.Is(err, dispatch.ErrDuplicateProvider):
		return &Problem{
			Title: "two carriers share a name",
			Fixes: []string{"give every [[providers]] entry in telecom.toml a unique name"},
			Err:   err,
		}
	case errors.Is(err, provider.ErrInvalidConfig):
		return &Problem{
			Title: "a carrier is misconfigured",
			Fixes: []string{
				"check type and credentials of the [[providers]] entries in telecom.toml",
				"mock failure percentages must be between 0 and 100",
			},
			Err: err,
		}
	default:
		return err
	}
}

// Render formats err for stderr. A Problem gets its cause and fixes.
func Render(err error) string {
	var b strings.Builder
	var p *Problem
	if !errors.As(err, &p) {
		fmt.Fprintf(&b, "%s %s\n", StyleBoldRed.Render("Error:"), err)
		return b.String()
	}

	fmt.Fprintf(&b, "%s %s\n", StyleBoldRed.Render("Error:"), p.Title)
	fmt.Fprintf(&b, "  %s\n", StyleHint.Render(p.Err.Error()))
	if len(p.Fixes) > 0 {
		b.WriteString("\n" + StyleHint.Render("  Try:") + "\n")
		for _, fix := range p.Fixes {
			fmt.Fprintf(&b, "    %s %s\n", StyleHint.Render(SymbolArrow), fix)
		}
	}
	return b.String()
}

// Package gate decides, on every route entry, whether the console renders the
// requested page, waits for the session to resolve, or redirects.
package gate

import "novapharm/m/internal/routes"

// Input is everything the gate reads. Profile presence is deliberately absent:
// only the session gates navigation.
type Input struct {
	SessionPresent bool
	Loading        bool
	Path           string
	RequireAuth    bool
}

// Decision is the outcome of one evaluation. Redirect and RenderChildren are
// computed independently; a redirect only unrenders children on the next
// evaluation, at the redirect target.
type Decision struct {
	Waiting        bool
	Redirect       string
	RenderChildren bool
}

// Evaluate is pure: the same input always yields the same decision.
func Evaluate(c routes.Classifier, in Input) Decision {
	if in.Loading {
		return Decision{Waiting: true}
	}

	public := c.IsPublic(in.Path)
	root := routes.IsRoot(in.Path)

	var d Decision
	switch {
	case in.RequireAuth && !in.SessionPresent && !public:
		d.Redirect = routes.LoginPath
	case in.SessionPresent && public && !root:
		d.Redirect = routes.RootPath
	case !in.SessionPresent && root:
		// Root renders the landing view for guests; the dispatcher decides.
	}

	d.RenderChildren = (in.RequireAuth && in.SessionPresent) || !in.RequireAuth
	return d
}

// RootView is the content chosen for "/".
type RootView int

const (
	RootSpinner RootView = iota
	RootDashboard
	RootLanding
)

func (v RootView) String() string {
	switch v {
	case RootDashboard:
		return "dashboard"
	case RootLanding:
		return "landing"
	default:
		return "spinner"
	}
}

// DispatchRoot picks the root content independently of Evaluate.
func DispatchRoot(loading, sessionPresent bool) RootView {
	switch {
	case loading:
		return RootSpinner
	case sessionPresent:
		return RootDashboard
	default:
		return RootLanding
	}
}

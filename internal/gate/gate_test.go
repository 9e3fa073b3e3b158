package gate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"novapharm/m/internal/routes"
)

var (
	classifier     = routes.NewClassifier()
	protectedPaths = []string{"/dashboard", "/inventory", "/sales", "/reports", "/customers", "/products", "/suppliers", "/pricing", "/settings", "/auth/login/", "/nowhere"}
	publicNonRoot  = []string{routes.LoginPath, routes.RegisterPath, routes.ForgotPasswordPath}
)

func TestLoadingNeverRedirectsOrRenders(t *testing.T) {
	for _, path := range append(append([]string{"/"}, protectedPaths...), publicNonRoot...) {
		for _, session := range []bool{true, false} {
			for _, requireAuth := range []bool{true, false} {
				d := Evaluate(classifier, Input{SessionPresent: session, Loading: true, Path: path, RequireAuth: requireAuth})
				assert.Equal(t, Decision{Waiting: true}, d, path)
			}
		}
	}
}

func TestProtectedWithoutSessionRedirectsToLogin(t *testing.T) {
	for _, path := range protectedPaths {
		d := Evaluate(classifier, Input{Path: path, RequireAuth: true})
		assert.Equal(t, routes.LoginPath, d.Redirect, path)
		assert.False(t, d.RenderChildren, path)
		assert.False(t, d.Waiting, path)
	}
}

func TestPublicWithSessionRedirectsToRoot(t *testing.T) {
	for _, path := range publicNonRoot {
		for _, requireAuth := range []bool{true, false} {
			d := Evaluate(classifier, Input{SessionPresent: true, Path: path, RequireAuth: requireAuth})
			assert.Equal(t, routes.RootPath, d.Redirect, path)
		}
	}
	// Signed-in users never render protected routes through a redirect.
	for _, path := range protectedPaths {
		d := Evaluate(classifier, Input{SessionPresent: true, Path: path, RequireAuth: true})
		assert.Empty(t, d.Redirect, path)
		assert.True(t, d.RenderChildren, path)
	}
}

func TestRootNeverRedirects(t *testing.T) {
	for _, session := range []bool{true, false} {
		for _, loading := range []bool{true, false} {
			for _, requireAuth := range []bool{true, false} {
				d := Evaluate(classifier, Input{SessionPresent: session, Loading: loading, Path: "/", RequireAuth: requireAuth})
				assert.Empty(t, d.Redirect)
			}
		}
	}
	assert.True(t, Evaluate(classifier, Input{SessionPresent: true, Path: "/", RequireAuth: false}).RenderChildren)
	assert.True(t, Evaluate(classifier, Input{SessionPresent: false, Path: "/", RequireAuth: false}).RenderChildren)
}

func TestRenderDecisionIsIndependentOfRedirect(t *testing.T) {
	// A logged-in user on the login page is redirected, and the login page
	// would still render for this one pass because it does not require auth.
	d := Evaluate(classifier, Input{SessionPresent: true, Path: routes.LoginPath, RequireAuth: false})
	assert.Equal(t, routes.RootPath, d.Redirect)
	assert.True(t, d.RenderChildren)

	// Following the redirect settles in one cycle with no further redirect.
	next := Evaluate(classifier, Input{SessionPresent: true, Path: d.Redirect, RequireAuth: false})
	assert.Empty(t, next.Redirect)
	assert.True(t, next.RenderChildren)
}

func TestRedirectsSettleWithinOneCycle(t *testing.T) {
	requireAuthFor := func(path string) bool { return !classifier.IsPublic(path) }
	for _, start := range append(append([]string{"/"}, protectedPaths...), publicNonRoot...) {
		for _, session := range []bool{true, false} {
			path := start
			flashes := 0
			for cycle := 0; cycle < 4; cycle++ {
				d := Evaluate(classifier, Input{SessionPresent: session, Path: path, RequireAuth: requireAuthFor(path)})
				if d.Redirect == "" {
					break
				}
				if d.RenderChildren {
					flashes++
				}
				path = d.Redirect
				require.Less(t, cycle, 1, "more than one redirect from %s", start)
			}
			assert.LessOrEqual(t, flashes, 1, start)
		}
	}
}

func TestEvaluateIsIdempotent(t *testing.T) {
	for _, path := range append(append([]string{"/"}, protectedPaths...), publicNonRoot...) {
		for _, session := range []bool{true, false} {
			in := Input{SessionPresent: session, Path: path, RequireAuth: true}
			assert.Equal(t, Evaluate(classifier, in), Evaluate(classifier, in), path)
		}
	}
}

func TestRequireAuthFalseOnUnlistedPathRenders(t *testing.T) {
	d := Evaluate(classifier, Input{SessionPresent: false, Path: "/pricing", RequireAuth: false})
	assert.Empty(t, d.Redirect)
	assert.True(t, d.RenderChildren)
}

func TestDispatchRoot(t *testing.T) {
	assert.Equal(t, RootSpinner, DispatchRoot(true, true))
	assert.Equal(t, RootSpinner, DispatchRoot(true, false))
	assert.Equal(t, RootDashboard, DispatchRoot(false, true))
	assert.Equal(t, RootLanding, DispatchRoot(false, false))
	assert.Equal(t, "dashboard", RootDashboard.String())
}

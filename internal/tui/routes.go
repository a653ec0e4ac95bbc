package tui

import tea "github.com/charmbracelet/bubbletea"

type route string

const (
	routeLanding        route = "/"
	routeAbout          route = "/about"
	routeLogin          route = "/login"
	routeRegister       route = "/register"
	routeForgot         route = "/forgot-password"
	routeReset          route = "/reset-password"
	routeDashboard      route = "/dashboard"
	routeProfile        route = "/profile"
	routeChangePassword route = "/change-password"
	routeNotFound       route = "/404"
)

var knownRoutes = map[route]bool{
	routeLanding:        true,
	routeAbout:          true,
	routeLogin:          true,
	routeRegister:       true,
	routeForgot:         true,
	routeReset:          true,
	routeDashboard:      true,
	routeProfile:        true,
	routeChangePassword: true,
	routeNotFound:       true,
}

// parseRoute maps a path to a route; unknown paths become routeNotFound.
func parseRoute(path string) route {
	if path == "" {
		return routeLanding
	}
	if r := route(path); knownRoutes[r] {
		return r
	}
	return routeNotFound
}

// protected routes require a signed-in user.
func (r route) protected() bool {
	switch r {
	case routeDashboard, routeProfile, routeChangePassword:
		return true
	}
	return false
}

// guestOnly routes make no sense once signed in.
func (r route) guestOnly() bool {
	return r == routeLogin || r == routeRegister
}

func (r route) isForm() bool {
	switch r {
	case routeLogin, routeRegister, routeForgot, routeReset, routeProfile, routeChangePassword:
		return true
	}
	return false
}

// navigateMsg asks the app to switch routes.
type navigateMsg route

// Router carries route changes requested outside the bubbletea loop,
// such as the session manager's redirect after logout. Only the most
// recent pending request is kept.
type Router struct {
	ch chan route
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{ch: make(chan route, 1)}
}

// Navigate queues a route change. It never blocks, so it can be passed
// to session.WithNavigator.
func (r *Router) Navigate(path string) {
	next := parseRoute(path)
	for {
		select {
		case r.ch <- next:
			return
		default:
		}
		select {
		case <-r.ch:
		default:
		}
	}
}

func (r *Router) wait() tea.Cmd {
	return func() tea.Msg {
		return navigateMsg(<-r.ch)
	}
}

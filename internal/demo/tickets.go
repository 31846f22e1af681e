package demo

import (
	"context"

	"github.com/roach88/bpflow/internal/bid"
	"github.com/roach88/bpflow/internal/engine"
	"github.com/roach88/bpflow/internal/event"
	"github.com/roach88/bpflow/internal/promise"
)

// Ticket flow events.
var (
	EvLogin              = event.Named("login")
	EvLogout             = event.Named("logout")
	EvLoginUser          = event.Named("loginUser")
	EvUserLoggedIn       = event.Named("userLoggedIn")
	EvSelectTicket       = event.Named("select ticket")
	EvTicketDetails      = event.Named("get ticket details")
	EvReserveTicket      = event.Named("reserve ticket")
	EvBackToList         = event.Named("back to product-list")
	EvConfirmReservation = event.Named("confirm reservation")
	EvAPIReserveTicket   = event.Named("api reserve ticket")
	EvTicketReserved     = event.Named("ticket reserved")
)

// Ticket flow scenario names.
const (
	UserLogin          = "user login"
	ReserveTicket      = "reserve ticket"
	UserNameRestricted = "user name restricted"
	ConfirmReservation = "confirm reservation"
)

// Sections of the ticket flow.
const (
	SectionLoginProcess = "login process"
	SectionLoggedIn     = "user logged in"
	SectionProductList  = "product-list"
)

// API is the backend the ticket flow calls asynchronously.
type API interface {
	LoginUser(ctx context.Context, name string) (any, error)
	TicketDetails(ctx context.Context, ticket int64) (any, error)
	ReserveTicket(ctx context.Context, ticket int64) (any, error)
}

// InstantAPI answers every call at once.
type InstantAPI struct{}

// LoginUser returns name as the logged-in user.
func (InstantAPI) LoginUser(_ context.Context, name string) (any, error) {
	return name, nil
}

// TicketDetails returns a fixed details string for any ticket.
func (InstantAPI) TicketDetails(_ context.Context, ticket int64) (any, error) {
	return "ticket details", nil
}

// ReserveTicket accepts every reservation and returns nil.
func (InstantAPI) ReserveTicket(_ context.Context, ticket int64) (any, error) {
	return nil, nil
}

func validUserName(payload any) bid.Check {
	name, ok := payload.(string)
	if !ok || len(name) <= 3 {
		return bid.Check{Message: "user-name needs more than 3 characters"}
	}
	return bid.Check{Valid: true}
}

func shortUserName(payload any) bid.Check {
	name, _ := payload.(string)
	if len(name) >= 10 {
		return bid.Check{Message: "user-name needs to be shorter than 10 characters"}
	}
	return bid.Check{Valid: true}
}

func validTicket(payload any) bid.Check {
	n, ok := asInt(payload)
	if !ok || n <= 0 || n > 10 {
		return bid.Check{Message: "ticket id between 1 and 10"}
	}
	return bid.Check{Valid: true}
}

func userLogin(api API) engine.Scenario {
	return engine.Scenario{
		Name:  UserLogin,
		Title: "user can sign in and out",
		Body: func(t *engine.Thread, _ engine.Props) error {
			for {
				t.Section(SectionLoginProcess)
				name, err := t.AskFor(EvLogin, validUserName)
				if err != nil {
					return err
				}
				user, _ := name.(string)
				if _, err := t.Request(EvLoginUser, promise.Func(func(ctx context.Context) (any, error) {
					return api.LoginUser(ctx, user)
				})); err != nil {
					return err
				}
				if _, err := t.Set(EvUserLoggedIn, name); err != nil {
					return err
				}
				t.Section(SectionLoggedIn)
				if _, err := t.AskFor(EvLogout, nil); err != nil {
					return err
				}
			}
		},
	}
}

func reserveTicket(api API) engine.Scenario {
	return engine.Scenario{
		Name:  ReserveTicket,
		Title: "user can reserve a ticket",
		Body: func(t *engine.Thread, _ engine.Props) error {
			t.Section(SectionProductList)
			selected, err := t.AskFor(EvSelectTicket, validTicket)
			if err != nil {
				return err
			}
			ticket, _ := asInt(selected)
			if _, err := t.Request(EvTicketDetails, promise.Func(func(ctx context.Context) (any, error) {
				return api.TicketDetails(ctx, ticket)
			})); err != nil {
				return err
			}
			t.Section("ticket-details: " + describe(selected))

			r, err := t.Yield(bid.AskFor(EvReserveTicket, nil), bid.AskFor(EvBackToList, nil))
			if err != nil {
				return err
			}
			if r.Event != EvReserveTicket {
				return nil
			}
			if _, err := t.Request(EvAPIReserveTicket, promise.Func(func(ctx context.Context) (any, error) {
				return api.ReserveTicket(ctx, ticket)
			})); err != nil {
				return err
			}
			_, err = t.Set(EvTicketReserved, ticket)
			return err
		},
	}
}

func userNameRestricted() engine.Scenario {
	return engine.Scenario{
		Name:  UserNameRestricted,
		Title: "user name can not be longer than 10 characters",
		Body: func(t *engine.Thread, _ engine.Props) error {
			_, err := t.Yield(bid.Validate(EvLogin, shortUserName))
			return err
		},
	}
}

func confirmReservation() engine.Scenario {
	return engine.Scenario{
		Name:  ConfirmReservation,
		Title: "user needs to confirm a ticket reservation",
		Body: func(t *engine.Thread, _ engine.Props) error {
			x, err := t.Extend(EvReserveTicket, nil)
			if err != nil {
				return err
			}
			if _, err := t.AskFor(EvConfirmReservation, nil); err != nil {
				return err
			}
			x.Resolve("ok")
			return nil
		},
	}
}

// Tickets is the ticket reservation flow: log in, pick a ticket, reserve
// it and confirm the reservation. Reservation scenarios are only enabled
// once the user is logged in; before that, user names are length checked.
func Tickets(api API) engine.StagingFunc {
	login := userLogin(api)
	reserve := reserveTicket(api)
	restricted := userNameRestricted()
	confirm := confirmReservation()
	return func(s *engine.Stage) {
		if s.Enable(login, nil).Section == SectionLoggedIn {
			s.Enable(reserve, nil)
			s.Enable(confirm, nil)
		} else {
			s.Enable(restricted, nil)
		}
	}
}

// Package session runs remote-browser authorization sessions.
//
// A Session owns one browser.Driver and routes every call to it through a
// single browser.Worker, so screenshots, input injection and token polling
// never interleave. After Start, a poll loop checks recorded browser traffic
// and then the current URL for an OAuth implicit-grant fragment once per
// PollInterval. The first token found is stored, waiters are released and
// the TokenCallback runs. When TokenTimeout passes first, the TimeoutCallback
// runs and the session stays open until someone closes it.
//
// The Registry keeps sessions indexed by id and by user. Starting a session
// for a user closes that user's previous session first. A sweeper closes
// sessions that have not been touched for longer than the TTL.
//
// Example Usage:
//
//	reg := session.NewRegistry(session.RegistryOptions{
//		Session:   session.Config{AuthURL: authURL, Viewport: vp, TokenTimeout: 2 * time.Minute},
//		NewDriver: browser.RodFactory(browser.RodConfig{Headless: true}, logger),
//		OnToken:   func(s *session.Session, tok token.Token) { store.Set(s.UserID(), tok) },
//	})
//	reg.StartSweeper()
//	defer reg.Shutdown()
//
//	sess, err := reg.StartSession(ctx, userID)
package session

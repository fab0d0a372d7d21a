// Package shell is the interactive terminal front end: a session gate that
// keeps signed-out users on the sign-in menu, and a list view driven by a
// listsync.Controller.
package shell

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/atinyakov/shoplist/internal/client/remote"
	"github.com/atinyakov/shoplist/internal/listsync"
	"github.com/atinyakov/shoplist/internal/models"
	"go.uber.org/zap"
)

// Identity is the identity provider as seen by the shell.
type Identity interface {
	Register(ctx context.Context, email, password string) (*models.Session, error)
	Login(ctx context.Context, email, password string) (*models.Session, error)
	LoginFederated(ctx context.Context, idToken string) (*models.Session, error)
	SignOut(ctx context.Context) error
	CurrentUserIdentifier() (string, bool)
	OnAuthChange(fn func(*models.Session)) (unsubscribe func())
}

// Shell reads commands from in and writes to out.
type Shell struct {
	identity Identity
	ctrl     *listsync.Controller
	in       *bufio.Scanner
	out      *syncWriter
	password PasswordReader
	log      *zap.Logger

	mu    sync.Mutex
	email string
}

// Option configures a Shell.
type Option func(*Shell)

// WithLogger sets the logger used by the shell and its controller.
func WithLogger(log *zap.Logger) Option {
	return func(s *Shell) { s.log = log }
}

// New returns a Shell that keeps the list of the signed-in user in sync
// through store.
func New(identity Identity, store listsync.Store, in io.Reader, out io.Writer, opts ...Option) *Shell {
	s := &Shell{
		identity: identity,
		in:       bufio.NewScanner(in),
		out:      &syncWriter{w: out},
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.password = terminalPasswordReader(in, s.out, s.readLine)
	s.ctrl = listsync.New(store, listsync.WithLogger(s.log), listsync.WithObserver(&listView{out: s.out}))
	return s
}

// Controller exposes the list controller driven by the shell.
func (s *Shell) Controller() *listsync.Controller {
	return s.ctrl
}

// Run serves the session gate and the list view until the user exits or
// input ends.
func (s *Shell) Run(ctx context.Context) error {
	unsubscribe := s.identity.OnAuthChange(func(sess *models.Session) {
		if sess == nil {
			s.ctrl.Detach()
		}
	})
	defer unsubscribe()
	defer s.ctrl.Detach()

	for {
		userID, ok := s.identity.CurrentUserIdentifier()
		if !ok {
			done, err := s.signInMenu(ctx)
			if done || err != nil {
				return err
			}
			continue
		}
		done, err := s.listLoop(ctx, userID)
		if done || err != nil {
			return err
		}
	}
}

// signInMenu returns done when the user asked to exit or input ended.
func (s *Shell) signInMenu(ctx context.Context) (bool, error) {
	s.println("Sign in to see your shopping list. Commands: login, register, federated, exit")
	for {
		line, ok := s.prompt("shoplist (signed out)> ")
		if !ok {
			return true, s.in.Err()
		}
		var sess *models.Session
		var err error
		switch strings.TrimSpace(line) {
		case "":
			continue
		case "login":
			sess, err = s.login(ctx)
		case "register":
			sess, err = s.register(ctx)
		case "federated":
			sess, err = s.federated(ctx)
		case "help":
			s.println("Commands: login, register, federated, exit")
			continue
		case "exit", "quit":
			s.println("Bye")
			return true, nil
		default:
			s.println("Please sign in first. Commands: login, register, federated, exit")
			continue
		}
		if errors.Is(err, errInputClosed) {
			return true, s.in.Err()
		}
		if err != nil {
			s.printf("Sign-in failed: %s\n", describe(err))
			continue
		}
		s.mu.Lock()
		s.email = sess.Email
		s.mu.Unlock()
		s.printf("Signed in as %s\n", sess.Email)
		return false, nil
	}
}

var errInputClosed = errors.New("input closed")

func (s *Shell) login(ctx context.Context) (*models.Session, error) {
	email, ok := s.prompt("Email: ")
	if !ok {
		return nil, errInputClosed
	}
	password, err := s.password("Password: ")
	if err != nil {
		return nil, errInputClosed
	}
	return s.identity.Login(ctx, strings.TrimSpace(email), password)
}

func (s *Shell) register(ctx context.Context) (*models.Session, error) {
	email, ok := s.prompt("Email: ")
	if !ok {
		return nil, errInputClosed
	}
	password, err := s.password("Password: ")
	if err != nil {
		return nil, errInputClosed
	}
	confirm, err := s.password("Confirm password: ")
	if err != nil {
		return nil, errInputClosed
	}
	if password != confirm {
		return nil, errors.New("passwords do not match")
	}
	return s.identity.Register(ctx, strings.TrimSpace(email), password)
}

func (s *Shell) federated(ctx context.Context) (*models.Session, error) {
	token, ok := s.prompt("ID token: ")
	if !ok {
		return nil, errInputClosed
	}
	return s.identity.LoginFederated(ctx, strings.TrimSpace(token))
}

// listLoop returns done when the user asked to exit or input ended, and
// (false, nil) when the session ended and the gate should take over.
// Remote failures keep the loop running; 'reload' retries loading the list.
func (s *Shell) listLoop(ctx context.Context, userID string) (bool, error) {
	s.attach(ctx, userID)
	s.println("Type 'help' for a list of commands.")

	for {
		if _, ok := s.identity.CurrentUserIdentifier(); !ok {
			s.println("Your session has ended. Please sign in again.")
			s.ctrl.Detach()
			return false, nil
		}
		line, ok := s.prompt("shoplist> ")
		if !ok {
			return true, s.in.Err()
		}
		cmd, arg, _ := strings.Cut(line, " ")
		switch strings.TrimSpace(cmd) {
		case "":
		case "help":
			s.println("Available commands: help, list, add <text>, delete <n>, save, reload, whoami, logout, exit")
		case "list", "ls":
			printList(s.out, s.ctrl.Items())
			if !s.ctrl.Live() {
				s.println(reloadHint)
			}
		case "reload":
			s.attach(ctx, userID)
		case "add":
			s.ctrl.SetInput(arg)
			if err := s.ctrl.Submit(); errors.Is(err, listsync.ErrEmptyItem) {
				s.println("Item text must not be empty.")
			} else if err != nil {
				s.printf("Add failed: %s\n", describe(err))
			}
		case "delete", "rm":
			n, err := strconv.Atoi(strings.TrimSpace(arg))
			if err != nil {
				s.println("Usage: delete <n>")
				continue
			}
			if err := s.ctrl.DeleteItem(n - 1); errors.Is(err, listsync.ErrIndexOutOfRange) {
				s.printf("No item %d.\n", n)
			} else if err != nil {
				s.printf("Delete failed: %s\n", describe(err))
			}
		case "save":
			if err := s.ctrl.Save(ctx); errors.Is(err, listsync.ErrNotAttached) {
				s.println("Your list is not loaded, so there is nothing to save. " + reloadHint)
				continue
			} else if err != nil {
				s.printf("Save failed: %s\n", describe(err))
				continue
			}
			s.println("Saved.")
		case "whoami":
			s.mu.Lock()
			email := s.email
			s.mu.Unlock()
			s.printf("%s (%s)\n", email, userID)
		case "logout":
			s.ctrl.Detach()
			if err := s.identity.SignOut(ctx); err != nil {
				s.printf("Sign-out failed on the server: %s\n", describe(err))
			}
			s.println("Signed out.")
			return false, nil
		case "exit", "quit":
			s.println("Bye")
			return true, nil
		default:
			s.println("Unknown command. Type 'help' for a list of commands.")
		}
	}
}

const reloadHint = "Live updates are off. Type 'reload' to load your list again."

// attach (re)subscribes the controller to userID's list. Failures are
// reported and leave the controller unattached.
func (s *Shell) attach(ctx context.Context, userID string) {
	if err := s.ctrl.Attach(ctx, userID); err != nil {
		s.printf("Could not load your list: %s\n", describe(err))
		if !errors.Is(err, remote.ErrUnauthenticated) {
			s.println(reloadHint)
		}
	}
}

func (s *Shell) prompt(p string) (string, bool) {
	s.printf("%s", p)
	return s.readLine()
}

func (s *Shell) readLine() (string, bool) {
	if !s.in.Scan() {
		return "", false
	}
	return s.in.Text(), true
}

func (s *Shell) println(msg string) {
	fmt.Fprintln(s.out, msg)
}

func (s *Shell) printf(format string, args ...any) {
	fmt.Fprintf(s.out, format, args...)
}

// describe renders err for the user, preferring the server's message.
func describe(err error) string {
	var apiErr *remote.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return err.Error()
}

// syncWriter serializes writes from the REPL and from subscription
// callbacks.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (w *syncWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.w.Write(p)
}

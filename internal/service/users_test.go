package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/patric-chuzhbe/shoplite/internal/db/memorystorage"
	"github.com/patric-chuzhbe/shoplite/internal/models"
	"github.com/patric-chuzhbe/shoplite/internal/session"
)

func newUsersService(t *testing.T) (*Users, *session.Manager) {
	t.Helper()

	theStorage, err := memorystorage.New(time.Second)
	require.NoError(t, err)
	sessions := session.New(time.Hour, time.Minute)

	return NewUsers(theStorage, sessions), sessions
}

func TestRegisterAndLogin(t *testing.T) {
	users, sessions := newUsersService(t)

	usr, err := users.Register(context.Background(), "a@x.com", "pw1234")
	require.NoError(t, err)
	assert.NotEmpty(t, usr.ID)
	assert.Equal(t, "a@x.com", usr.Email)

	assert.NotEqual(t, "pw1234", usr.PasswordHash, "the plaintext password must never be stored")
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(usr.PasswordHash), []byte("pw1234")))

	loggedIn, sess, err := users.Login(context.Background(), "a@x.com", "pw1234")
	require.NoError(t, err)
	assert.Equal(t, usr.ID, loggedIn.ID)

	userID, err := sessions.Validate(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, usr.ID, userID)
}

func TestLoginFailsTheSameWayForBothMistakes(t *testing.T) {
	users, _ := newUsersService(t)

	_, err := users.Register(context.Background(), "a@x.com", "pw1234")
	require.NoError(t, err)

	_, _, wrongPasswordErr := users.Login(context.Background(), "a@x.com", "nope")
	_, _, unknownEmailErr := users.Login(context.Background(), "b@x.com", "pw1234")

	assert.ErrorIs(t, wrongPasswordErr, models.ErrUnauthenticated)
	assert.ErrorIs(t, unknownEmailErr, models.ErrUnauthenticated)
	assert.Equal(t, wrongPasswordErr, unknownEmailErr, "the failure must not reveal which credential was wrong")
}

func TestRegisterDuplicateEmail(t *testing.T) {
	users, _ := newUsersService(t)

	_, err := users.Register(context.Background(), "a@x.com", "pw1234")
	require.NoError(t, err)

	_, err = users.Register(context.Background(), "a@x.com", "other-password")
	assert.ErrorIs(t, err, models.ErrConflict)
}

func TestEmailNormalization(t *testing.T) {
	users, _ := newUsersService(t)

	_, err := users.Register(context.Background(), "  A@X.com ", "pw1234")
	require.NoError(t, err)

	_, _, err = users.Login(context.Background(), "a@x.com", "pw1234")
	assert.NoError(t, err)

	_, err = users.Register(context.Background(), "a@X.COM", "pw1234")
	assert.ErrorIs(t, err, models.ErrConflict)
}

func TestLogoutDestroysSession(t *testing.T) {
	users, sessions := newUsersService(t)

	_, err := users.Register(context.Background(), "a@x.com", "pw1234")
	require.NoError(t, err)

	_, sess, err := users.Login(context.Background(), "a@x.com", "pw1234")
	require.NoError(t, err)

	users.Logout(sess.ID)

	_, err = sessions.Validate(sess.ID)
	assert.ErrorIs(t, err, models.ErrUnauthenticated)
}

func TestMe(t *testing.T) {
	users, _ := newUsersService(t)

	usr, err := users.Register(context.Background(), "a@x.com", "pw1234")
	require.NoError(t, err)

	me, err := users.Me(context.Background(), usr.ID)
	require.NoError(t, err)
	assert.Equal(t, usr, me)

	_, err = users.Me(context.Background(), "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

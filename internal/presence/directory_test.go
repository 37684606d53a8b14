package presence

import (
	"fmt"
	"sync"
	"testing"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveUnknown(t *testing.T) {
	d := NewDirectory()

	_, ok := d.Resolve("nobody")
	assert.False(t, ok)
	assert.Equal(t, 0, d.Len())
}

func TestBindOverwrites(t *testing.T) {
	d := NewDirectory()
	a, b := uuid.New(), uuid.New()

	d.Bind("alice", a)
	res := d.Bind("alice", b)

	conn, ok := d.Resolve("alice")
	require.True(t, ok)
	assert.Equal(t, b, conn)
	assert.Equal(t, a, res.Displaced)
	assert.Empty(t, res.Released)

	// a no longer appears anywhere
	_, ok = d.IdentityOf(a)
	assert.False(t, ok)
	assert.Equal(t, 1, d.Len())
}

func TestBindSameIdentityTwice(t *testing.T) {
	d := NewDirectory()
	a := uuid.New()

	d.Bind("alice", a)
	res := d.Bind("alice", a)

	assert.Equal(t, uuid.Nil, res.Displaced)
	assert.Empty(t, res.Released)
	conn, ok := d.Resolve("alice")
	require.True(t, ok)
	assert.Equal(t, a, conn)
}

func TestReidentifyReleasesPreviousName(t *testing.T) {
	d := NewDirectory()
	a := uuid.New()

	d.Bind("alice", a)
	res := d.Bind("bob", a)

	assert.Equal(t, "alice", res.Released)
	_, ok := d.Resolve("alice")
	assert.False(t, ok)

	conn, ok := d.Resolve("bob")
	require.True(t, ok)
	assert.Equal(t, a, conn)
	assert.Equal(t, []string{"bob"}, d.Identities())
}

func TestUnbindByConnection(t *testing.T) {
	d := NewDirectory()
	a, b := uuid.New(), uuid.New()
	d.Bind("alice", a)
	d.Bind("bob", b)

	name, ok := d.UnbindByConnection(a)
	require.True(t, ok)
	assert.Equal(t, "alice", name)

	_, ok = d.Resolve("alice")
	assert.False(t, ok)
	_, ok = d.Resolve("bob")
	assert.True(t, ok)
}

func TestUnbindAnonymousIsNoop(t *testing.T) {
	d := NewDirectory()
	d.Bind("alice", uuid.New())

	_, ok := d.UnbindByConnection(uuid.New())
	assert.False(t, ok)
	assert.Equal(t, 1, d.Len())
}

func TestUnbindDisplacedKeepsNewOwner(t *testing.T) {
	d := NewDirectory()
	a, b := uuid.New(), uuid.New()

	d.Bind("alice", a)
	d.Bind("alice", b)

	_, ok := d.UnbindByConnection(a)
	assert.False(t, ok)

	conn, ok := d.Resolve("alice")
	require.True(t, ok)
	assert.Equal(t, b, conn)
}

func TestReset(t *testing.T) {
	d := NewDirectory()
	d.Bind("alice", uuid.New())
	d.Bind("bob", uuid.New())

	names := d.Reset()
	assert.ElementsMatch(t, []string{"alice", "bob"}, names)
	assert.Equal(t, 0, d.Len())
}

func TestIndependentInstances(t *testing.T) {
	d1, d2 := NewDirectory(), NewDirectory()
	d1.Bind("alice", uuid.New())

	_, ok := d2.Resolve("alice")
	assert.False(t, ok)
}

func TestConcurrentBindUnbind(t *testing.T) {
	d := NewDirectory()
	faker := gofakeit.New(42)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		name := fmt.Sprintf("%s-%d", faker.Username(), i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn := uuid.New()
			for j := 0; j < 100; j++ {
				d.Bind(name, conn)
				d.Resolve(name)
				d.UnbindByConnection(conn)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, d.Len())
}

package broker

import (
	"context"
	"errors"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	quitErr     error
	quits       int
	disconnects int
}

func (c *fakeConn) Client() redis.UniversalClient { return nil }

func (c *fakeConn) Quit(context.Context) error {
	c.quits++
	return c.quitErr
}

func (c *fakeConn) Disconnect() error {
	c.disconnects++
	return nil
}

type countingFactory struct {
	made []*fakeConn
	err  error
	quit error
}

func (f *countingFactory) open(context.Context) (Conn, error) {
	if f.err != nil {
		return nil, f.err
	}
	c := &fakeConn{quitErr: f.quit}
	f.made = append(f.made, c)
	return c, nil
}

func TestManager_ReusesConnection(t *testing.T) {
	f := &countingFactory{}
	m := NewManager(f.open, nil)

	c1, err := m.GetOrCreate(context.Background())
	require.NoError(t, err)
	c2, err := m.GetOrCreate(context.Background())
	require.NoError(t, err)

	assert.Same(t, c1, c2)
	assert.Len(t, f.made, 1)
}

func TestManager_CloseQuitsAndReopens(t *testing.T) {
	ctx := context.Background()
	f := &countingFactory{}
	m := NewManager(f.open, nil)

	first, err := m.GetOrCreate(ctx)
	require.NoError(t, err)
	m.Close(ctx)

	assert.Equal(t, 1, f.made[0].quits)
	assert.Zero(t, f.made[0].disconnects)

	second, err := m.GetOrCreate(ctx)
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.Len(t, f.made, 2)
}

func TestManager_CloseDisconnectsWhenQuitFails(t *testing.T) {
	ctx := context.Background()
	f := &countingFactory{quit: errors.New("connection reset")}
	m := NewManager(f.open, nil)

	_, err := m.GetOrCreate(ctx)
	require.NoError(t, err)
	m.Close(ctx)

	assert.Equal(t, 1, f.made[0].quits)
	assert.Equal(t, 1, f.made[0].disconnects)

	_, err = m.GetOrCreate(ctx)
	require.NoError(t, err)
	assert.Len(t, f.made, 2)
}

func TestManager_CloseWithoutConnection(t *testing.T) {
	m := NewManager((&countingFactory{}).open, nil)
	m.Close(context.Background())
}

func TestManager_FactoryErrorLeavesManagerEmpty(t *testing.T) {
	f := &countingFactory{err: errors.New("dial tcp: connection refused")}
	m := NewManager(f.open, nil)

	_, err := m.GetOrCreate(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")

	f.err = nil
	conn, err := m.GetOrCreate(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, conn)
}

func TestRedisFactory_InvalidURL(t *testing.T) {
	_, err := RedisFactory("not-a-url")(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid redis url")
}

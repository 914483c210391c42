package cell

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// Conn is the connection capability the throttle round trip needs: send an
// encoded command, await the reply. *redis.Client, *redis.ClusterClient and
// redis.UniversalClient all satisfy it; their handles are internally pooled
// and safe for concurrent use, so cloning a Conn is just copying an
// interface value.
type Conn interface {
	Do(ctx context.Context, args ...interface{}) *redis.Cmd
}

// Pool is the alternative connection capability: acquire a connection per
// request and release it when done. The release function must be called
// exactly once on every exit path.
//
// Most go-redis clients pool internally and should be used as a Conn
// directly; Pool exists for integrators that manage checkout themselves.
type Pool interface {
	Acquire(ctx context.Context) (conn Conn, release func(), err error)
}

// StaticPool adapts a shared Conn to the Pool capability with a no-op
// release. Useful when a component is written against Pool but the
// deployment uses a single internally-pooled client.
type StaticPool struct {
	Conn Conn
}

// Acquire implements Pool.
func (p StaticPool) Acquire(context.Context) (Conn, func(), error) {
	return p.Conn, func() {}, nil
}

// Throttle performs one CL.THROTTLE round trip for the key under the policy:
// encode, send, decode. It never retries.
//
// Errors from the connection are returned as-is (transport failures);
// a malformed reply is reported as *ProtocolError.
func Throttle(ctx context.Context, conn Conn, key string, p Policy) (Verdict, error) {
	reply, err := conn.Do(ctx, Command(key, p)...).Result()
	if err != nil {
		return Verdict{}, err
	}
	return ParseReply(reply)
}

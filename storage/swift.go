package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ncw/swift"

	"github.com/janelia-flyem/densityserver/density"
)

const (
	swiftScheme = "swift://"

	// The maximum number of Swift requests in flight.
	maxConcurrentOperations = 10

	// The initial delay upon a failure.
	initialDelay = 50 * time.Millisecond

	// The maximum delay after which we give up and an error is returned.
	maximumDelay = 30 * time.Second
)

// rateLimit is a buffered channel used to limit the number of concurrent
// requests sent to Swift.
var rateLimit = make(chan struct{}, maxConcurrentOperations)

var (
	swiftMu   sync.Mutex
	swiftConn *swift.Connection
)

// swiftConnection returns the shared, authenticated Swift connection.  It is
// configured from SWIFT_USER, SWIFT_KEY, SWIFT_AUTH and optionally SWIFT_PROJECT and
// SWIFT_DOMAIN.
func swiftConnection() (*swift.Connection, error) {
	swiftMu.Lock()
	defer swiftMu.Unlock()
	if swiftConn != nil {
		return swiftConn, nil
	}
	conn := &swift.Connection{}
	configString := func(param string, required bool) (string, error) {
		value := os.Getenv("SWIFT_" + strings.ToUpper(param))
		if value == "" && required {
			return "", fmt.Errorf("environment variable SWIFT_%s missing", strings.ToUpper(param))
		}
		return value, nil
	}
	var err error
	if conn.UserName, err = configString("user", true); err != nil {
		return nil, err
	}
	if conn.ApiKey, err = configString("key", true); err != nil {
		return nil, err
	}
	if conn.AuthUrl, err = configString("auth", true); err != nil {
		return nil, err
	}
	conn.Tenant, _ = configString("project", false)
	if conn.Tenant != "" {
		conn.AuthVersion = 3
	}
	conn.TenantDomain, _ = configString("domain", false)

	if err := conn.Authenticate(); err != nil {
		return nil, fmt.Errorf("unable to authenticate with Swift: %v", err)
	}
	density.Infof("Authenticated to Openstack Swift as %q via %s\n", conn.UserName, conn.AuthUrl)
	swiftConn = conn
	return conn, nil
}

// withRetry runs op, retrying with increasing delays while it fails with anything
// but a missing object.
func withRetry(ctx context.Context, op func() error) error {
	delay := initialDelay
	for {
		rateLimit <- struct{}{}
		err := op()
		<-rateLimit
		if err == nil || err == swift.ObjectNotFound || err == swift.ContainerNotFound {
			return err
		}
		if delay > maximumDelay {
			return fmt.Errorf("maximum Swift retries exceeded: %v", err)
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= 2
	}
}

type swiftReader struct {
	ctx       context.Context
	conn      *swift.Connection
	container string
	object    string
	size      int64
	ref       string
	version   string
}

func openSwift(ctx context.Context, ref, container, object string) (Reader, error) {
	conn, err := swiftConnection()
	if err != nil {
		return nil, err
	}
	var info swift.Object
	err = withRetry(ctx, func() (err error) {
		info, _, err = conn.Object(container, object)
		return err
	})
	if err == swift.ObjectNotFound || err == swift.ContainerNotFound {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	if err != nil {
		return nil, err
	}
	return &swiftReader{ctx: ctx, conn: conn, container: container, object: object, size: info.Bytes, ref: ref, version: versionOf(info.Hash, info.LastModified)}, nil
}

// ReadAt issues one ranged GET per call.
func (r *swiftReader) ReadAt(p []byte, off int64) (int, error) {
	if off >= r.size {
		return 0, io.EOF
	}
	n := int64(len(p))
	if off+n > r.size {
		n = r.size - off
	}
	timedLog := density.NewTimeLog()
	headers := swift.Headers{"Range": fmt.Sprintf("bytes=%d-%d", off, off+n-1)}
	var read int
	err := withRetry(r.ctx, func() error {
		f, _, err := r.conn.ObjectOpen(r.container, r.object, false, headers)
		if err != nil {
			return err
		}
		defer f.Close()
		read, err = io.ReadFull(f, p[:n])
		return err
	})
	if err != nil {
		return read, err
	}
	timedLog.Debugf("Swift range read of %s/%s, offset %d, size %d", r.container, r.object, off, n)
	if n < int64(len(p)) {
		return read, io.EOF
	}
	return read, nil
}

func (r *swiftReader) Size() int64     { return r.size }
func (r *swiftReader) Ref() string     { return r.ref }
func (r *swiftReader) Version() string { return r.version }
func (r *swiftReader) Close() error    { return nil }

func uploadSwift(ctx context.Context, src, dst, container, object string) error {
	if _, err := os.Stat(src); err != nil {
		return err
	}
	conn, err := swiftConnection()
	if err != nil {
		return err
	}
	err = withRetry(ctx, func() error {
		f, err := os.Open(src)
		if err != nil {
			return err
		}
		defer f.Close()
		w, err := conn.ObjectCreate(container, object, false, "", "application/octet-stream", nil)
		if err != nil {
			return err
		}
		if _, err := io.Copy(w, f); err != nil {
			w.Close()
			return err
		}
		return w.Close()
	})
	if err != nil {
		return fmt.Errorf("uploading %s to %s: %w", src, dst, err)
	}
	return os.Remove(src)
}

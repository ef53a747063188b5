/*
Package storage gives random access to packed density files kept on local disk or in
a cloud bucket.  References without a scheme are local paths; file://, gs:// and s3://
references are opened through gocloud.dev/blob and swift://container/object references
through an Openstack Swift connection.
*/
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/s3blob"
	"gocloud.dev/gcerrors"

	"github.com/janelia-flyem/densityserver/density"
)

// ErrNotFound is returned when the referenced file does not exist.
var ErrNotFound = errors.New("packed file not found")

// Reader is an open packed file.
type Reader interface {
	io.ReaderAt

	// Size returns the size of the file in bytes.
	Size() int64

	// Ref returns the reference the file was opened with.
	Ref() string

	// Version identifies the stored content, an ETag or a modification time.  It
	// changes when the file is replaced.
	Version() string

	Close() error
}

// Open opens the packed file at ref.  The returned Reader must be closed.
func Open(ctx context.Context, ref string) (Reader, error) {
	bucketURL, key, ok, err := splitRef(ref)
	if err != nil {
		return nil, err
	}
	if !ok {
		return openFile(ref)
	}
	if container, found := strings.CutPrefix(bucketURL, swiftScheme); found {
		return openSwift(ctx, ref, container, key)
	}
	return openBlob(ctx, ref, bucketURL, key)
}

// splitRef separates a bucket reference into bucket URL and key.  ok is false for local
// paths.
func splitRef(ref string) (bucketURL, key string, ok bool, err error) {
	if !strings.Contains(ref, "://") {
		return "", "", false, nil
	}
	u, err := url.Parse(ref)
	if err != nil {
		return "", "", false, fmt.Errorf("bad storage reference %q: %v", ref, err)
	}
	if u.Scheme == "file" {
		dir, base := path.Split(u.Path)
		if base == "" {
			return "", "", false, fmt.Errorf("storage reference %q names no file", ref)
		}
		return "file://" + path.Clean(dir), base, true, nil
	}
	key = strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || key == "" {
		return "", "", false, fmt.Errorf("storage reference %q needs a bucket and a key", ref)
	}
	return u.Scheme + "://" + u.Host, key, true, nil
}

type fileReader struct {
	*os.File
	size    int64
	ref     string
	modTime time.Time
}

func openFile(ref string) (Reader, error) {
	f, err := os.Open(ref)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
		}
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return &fileReader{File: f, size: fi.Size(), ref: ref, modTime: fi.ModTime()}, nil
}

func (r *fileReader) Size() int64     { return r.size }
func (r *fileReader) Ref() string     { return r.ref }
func (r *fileReader) Version() string { return versionOf("", r.modTime) }

type blobReader struct {
	ctx     context.Context
	bucket  *blob.Bucket
	key     string
	size    int64
	ref     string
	version string
}

func openBlob(ctx context.Context, ref, bucketURL, key string) (Reader, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("can't open bucket %q: %v", bucketURL, err)
	}
	attrs, err := bucket.Attributes(ctx, key)
	if err != nil {
		bucket.Close()
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
		}
		return nil, err
	}
	return &blobReader{ctx: ctx, bucket: bucket, key: key, size: attrs.Size, ref: ref, version: versionOf(attrs.ETag, attrs.ModTime)}, nil
}

// ReadAt issues one range read per call.
func (r *blobReader) ReadAt(p []byte, off int64) (int, error) {
	if off >= r.size {
		return 0, io.EOF
	}
	n := int64(len(p))
	if off+n > r.size {
		n = r.size - off
	}
	timedLog := density.NewTimeLog()
	rr, err := r.bucket.NewRangeReader(r.ctx, r.key, off, n, nil)
	if err != nil {
		return 0, err
	}
	defer rr.Close()
	read, err := io.ReadFull(rr, p[:n])
	if err != nil {
		return read, err
	}
	timedLog.Debugf("Range read of object %q, offset %d, size %d", r.key, off, n)
	if n < int64(len(p)) {
		return read, io.EOF
	}
	return read, nil
}

func (r *blobReader) Size() int64     { return r.size }
func (r *blobReader) Ref() string     { return r.ref }
func (r *blobReader) Version() string { return r.version }

// versionOf prefers an ETag and falls back to the modification time.
func versionOf(etag string, modTime time.Time) string {
	if etag != "" {
		return etag
	}
	return strconv.FormatInt(modTime.UnixNano(), 36)
}

func (r *blobReader) Close() error {
	return r.bucket.Close()
}

// Upload copies the local file at src to the bucket reference dst.  Local destinations
// are renamed into place.
func Upload(ctx context.Context, src, dst string) error {
	bucketURL, key, ok, err := splitRef(dst)
	if err != nil {
		return err
	}
	if !ok {
		return os.Rename(src, dst)
	}
	if container, found := strings.CutPrefix(bucketURL, swiftScheme); found {
		return uploadSwift(ctx, src, dst, container, key)
	}
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return fmt.Errorf("can't open bucket %q: %v", bucketURL, err)
	}
	defer bucket.Close()

	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()
	w, err := bucket.NewWriter(ctx, key, &blob.WriterOptions{ContentType: "application/octet-stream"})
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, f); err != nil {
		w.Close()
		return fmt.Errorf("uploading %s to %s: %w", src, dst, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("uploading %s to %s: %w", src, dst, err)
	}
	return os.Remove(src)
}

package table

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/arkilian/memstress/internal/storage"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
)

// ErrBearerUnsupported is returned by S3Opener for bearer-only options.
var ErrBearerUnsupported = errors.New("bearer tokens are not supported by the S3 backend; use auth.type=aws")

// LocalOpener maps a container to a directory under Root. Storage
// instances are cached per container. Storage options, including any bearer
// token, are ignored.
type LocalOpener struct {
	Root string

	mu     sync.Mutex
	stores map[string]*storage.LocalStorage
}

// NewLocalOpener creates an opener rooted at root.
func NewLocalOpener(root string) *LocalOpener {
	return &LocalOpener{Root: root, stores: make(map[string]*storage.LocalStorage)}
}

// Open returns the local storage for container.
func (o *LocalOpener) Open(_ context.Context, container string, _ StorageOptions) (storage.ObjectStorage, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if st, ok := o.stores[container]; ok {
		return st, nil
	}
	st, err := storage.NewLocalStorage(filepath.Join(o.Root, container))
	if err != nil {
		return nil, err
	}
	if o.stores == nil {
		o.stores = make(map[string]*storage.LocalStorage)
	}
	o.stores[container] = st
	return st, nil
}

// S3Opener maps a container to a bucket. When opts carry an access key the
// client uses those credentials, otherwise the ambient AWS configuration.
// Bearer tokens are rejected.
type S3Opener struct {
	awsCfg aws.Config
	cfg    storage.S3Config
}

// NewS3Opener creates an opener from a resolved AWS configuration.
func NewS3Opener(awsCfg aws.Config, cfg storage.S3Config) *S3Opener {
	return &S3Opener{awsCfg: awsCfg, cfg: cfg}
}

// Open returns an S3 storage bound to the container bucket.
func (o *S3Opener) Open(_ context.Context, container string, opts StorageOptions) (storage.ObjectStorage, error) {
	if opts[OptionBearerToken] != "" && opts[OptionAccessKeyID] == "" {
		return nil, ErrBearerUnsupported
	}
	var creds aws.CredentialsProvider
	if id := opts[OptionAccessKeyID]; id != "" {
		secret := opts[OptionSecretAccessKey]
		if secret == "" {
			return nil, fmt.Errorf("storage options: %s set without %s", OptionAccessKeyID, OptionSecretAccessKey)
		}
		creds = credentials.NewStaticCredentialsProvider(id, secret, opts[OptionSessionToken])
	}
	client := storage.NewS3Client(o.awsCfg, o.cfg, creds)
	return storage.NewS3StorageWithClient(client, container, o.cfg), nil
}

package simpleblob

import (
	"context"
	"strings"
	"sync"
)

// Client resolves storage keys under the configured upload folder and owns
// the single container handle of the process.
//
// The handle is opened on the first call to Container and memoized together
// with any error: a failed open is not retried. After that the Client is
// read-only and safe for concurrent use.
type Client struct {
	open   ContainerOpener
	prefix string

	once      sync.Once
	container Container
	openErr   error
}

// NewClient creates a Client. uploadFolder may be empty; surrounding slashes
// are ignored.
func NewClient(open ContainerOpener, uploadFolder string) (*Client, error) {
	if open == nil {
		return nil, &ConfigError{Missing: []string{"container"}}
	}
	return &Client{
		open:   open,
		prefix: strings.Trim(uploadFolder, "/"),
	}, nil
}

// StaticOpener wraps an already constructed container.
func StaticOpener(c Container) ContainerOpener {
	return func(context.Context) (Container, error) {
		return c, nil
	}
}

// Container returns the memoized container handle.
func (c *Client) Container(ctx context.Context) (Container, error) {
	c.once.Do(func() {
		c.container, c.openErr = c.open(ctx)
		if c.openErr == nil && c.container == nil {
			c.openErr = &ConfigError{Reason: "container opener returned no container"}
		}
	})
	return c.container, c.openErr
}

// UploadFolder returns the normalized key prefix, without trailing slash.
func (c *Client) UploadFolder() string {
	return c.prefix
}

// ResolveBlobPath joins the upload folder and fileName.
func (c *Client) ResolveBlobPath(fileName string) string {
	if c.prefix == "" {
		return fileName
	}
	return c.prefix + "/" + fileName
}

// listPrefix is the key prefix used to enumerate application objects.
func (c *Client) listPrefix() string {
	if c.prefix == "" {
		return ""
	}
	return c.prefix + "/"
}

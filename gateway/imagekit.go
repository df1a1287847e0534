package gateway

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/imagekit-developer/imagekit-go"
	"github.com/imagekit-developer/imagekit-go/api/uploader"
)

const (
	imageKitFolder  = "chatgpt/images"
	imageKitBackend = "imagekit"
	// maxImageBytes bounds a generated image read into memory.
	maxImageBytes = 20 << 20
)

// Uploader stores a generated image and returns its stable URL.
type Uploader interface {
	Upload(ctx context.Context, img []byte, fileName, folder string) (string, error)
}

// sdkUploader uploads through the ImageKit media API.
type sdkUploader struct {
	ik *imagekit.ImageKit
}

func (u sdkUploader) Upload(ctx context.Context, img []byte, fileName, folder string) (string, error) {
	resp, err := u.ik.Uploader.Upload(ctx, "data:image/png;base64,"+base64.StdEncoding.EncodeToString(img), uploader.UploadParam{
		FileName: fileName,
		Folder:   folder,
	})
	if err != nil {
		return "", err
	}
	return resp.Data.Url, nil
}

// ImageKitClient generates images through ImageKit's prompt transformation
// and re-uploads them so the returned URL is stable.
type ImageKitClient struct {
	urlEndpoint string
	folder      string
	client      *http.Client
	uploader    Uploader
	now         func() time.Time
}

var _ Generator = (*ImageKitClient)(nil)

// ImageKitOption configures an ImageKitClient.
type ImageKitOption func(*ImageKitClient)

// WithImageKitFolder sets the upload folder.
func WithImageKitFolder(folder string) ImageKitOption {
	return func(c *ImageKitClient) { c.folder = folder }
}

// WithImageKitHTTPClient sets the HTTP client used to fetch generated images.
func WithImageKitHTTPClient(hc *http.Client) ImageKitOption {
	return func(c *ImageKitClient) { c.client = hc }
}

// WithImageKitUploader replaces the ImageKit media upload.
func WithImageKitUploader(u Uploader) ImageKitOption {
	return func(c *ImageKitClient) { c.uploader = u }
}

// NewImageKitClient creates an image generator for the given URL endpoint.
// Uploads go through the ImageKit SDK with the account's key pair unless
// WithImageKitUploader is given.
func NewImageKitClient(urlEndpoint, publicKey, privateKey string, opts ...ImageKitOption) *ImageKitClient {
	c := &ImageKitClient{
		urlEndpoint: strings.TrimRight(urlEndpoint, "/"),
		folder:      imageKitFolder,
		client:      &http.Client{},
		now:         time.Now,
	}
	if privateKey != "" {
		c.uploader = sdkUploader{ik: imagekit.NewFromParams(imagekit.NewParams{
			PrivateKey:  privateKey,
			PublicKey:   publicKey,
			UrlEndpoint: urlEndpoint,
		})}
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// encodeComponent escapes like a URI component: spaces become %20.
func encodeComponent(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

// Generate renders the prompt, checks the result is an image and uploads it.
func (c *ImageKitClient) Generate(ctx context.Context, req Request) (Result, error) {
	if c.urlEndpoint == "" || c.uploader == nil {
		return Result{}, &Failure{Kind: FailureRejected, Backend: imageKitBackend, Err: errors.New("imagekit not configured")}
	}

	stamp := c.now().UnixMilli()
	genURL := fmt.Sprintf("%s/ik-genimg-prompt-%s/chatgpt/%d.png?tr=w-800,h-800",
		c.urlEndpoint, encodeComponent(req.Prompt), stamp)

	img, err := c.fetch(ctx, genURL)
	if err != nil {
		return Result{}, err
	}

	hosted, err := c.uploader.Upload(ctx, img, fmt.Sprintf("chatgpt_%d.png", stamp), c.folder)
	if err != nil {
		return Result{}, callFailure(ctx, imageKitBackend, fmt.Errorf("upload: %w", err))
	}
	if hosted == "" {
		return Result{}, &Failure{Kind: FailureMalformed, Backend: imageKitBackend, Err: errors.New("upload: no url returned")}
	}
	return Result{Content: hosted, IsImage: true}, nil
}

func (c *ImageKitClient) fetch(ctx context.Context, genURL string) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, genURL, nil)
	if err != nil {
		return nil, &Failure{Kind: FailureRejected, Backend: imageKitBackend, Err: err}
	}
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, callFailure(ctx, imageKitBackend, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &Failure{Kind: FailureRejected, Backend: imageKitBackend, Err: fmt.Errorf("generate: status %d", resp.StatusCode)}
	}
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "image") {
		return nil, &Failure{Kind: FailureMalformed, Backend: imageKitBackend, Err: fmt.Errorf("generate: content type %q is not an image", ct)}
	}

	img, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return nil, callFailure(ctx, imageKitBackend, err)
	}
	if len(img) == 0 {
		return nil, &Failure{Kind: FailureMalformed, Backend: imageKitBackend, Err: errors.New("generate: empty image")}
	}
	return img, nil
}

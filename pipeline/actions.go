// actions.go implements the stage actions' process-boundary concerns.
// Each one (HTML resolution, streaming download, audio normalization) is a
// narrow interface with a concrete default implementation, so orchestrator
// tests can substitute fakes without a network or an `ffmpeg` binary on
// PATH.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/scribeflow/scribeflow/internal/pool"
)

// DefaultMaxDownloadBytes is the streamed-download size ceiling.
const DefaultMaxDownloadBytes int64 = 500 * 1024 * 1024

var ErrDownloadTooLarge = fmt.Errorf("pipeline: download exceeds size ceiling")

// copyBuffers recycles the 32KB copy buffers the downloader streams
// through; a worker pool downloading several large files at once would
// otherwise allocate one per call.
var copyBuffers = pool.NewSlicePool[byte](32 * 1024)

// Resolver extracts a direct media URL from a linked page (stage `resolve`).
type Resolver interface {
	Resolve(ctx context.Context, pageURL string) (string, error)
}

// HTTPResolver fetches pageURL and scrapes the first <video>/<audio> src
// or an og:video meta tag.
type HTTPResolver struct {
	Client *http.Client
}

func NewHTTPResolver() *HTTPResolver {
	return &HTTPResolver{Client: &http.Client{}}
}

func (r *HTTPResolver) Resolve(ctx context.Context, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("resolve: build request: %w", err)
	}
	resp, err := r.client().Do(req)
	if err != nil {
		return "", fmt.Errorf("resolve: fetch page: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("resolve: page returned status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", fmt.Errorf("resolve: parse html: %w", err)
	}

	if src, ok := doc.Find("video source[src]").First().Attr("src"); ok && src != "" {
		return src, nil
	}
	if src, ok := doc.Find("video[src]").First().Attr("src"); ok && src != "" {
		return src, nil
	}
	if src, ok := doc.Find("audio source[src]").First().Attr("src"); ok && src != "" {
		return src, nil
	}
	if src, ok := doc.Find("audio[src]").First().Attr("src"); ok && src != "" {
		return src, nil
	}
	if content, ok := doc.Find(`meta[property="og:video"]`).First().Attr("content"); ok && content != "" {
		return content, nil
	}
	return "", fmt.Errorf("resolve: no direct media URL found on page")
}

func (r *HTTPResolver) client() *http.Client {
	if r.Client != nil {
		return r.Client
	}
	return http.DefaultClient
}

// Downloader streams a remote URL to a local temp file, enforcing maxBytes,
// and returns the file path plus the sha256 of its content.
type Downloader interface {
	Download(ctx context.Context, url string, maxBytes int64) (path, sha256Hex string, err error)
}

type HTTPDownloader struct {
	Client  *http.Client
	TempDir string
}

func NewHTTPDownloader() *HTTPDownloader {
	return &HTTPDownloader{Client: &http.Client{}}
}

func (d *HTTPDownloader) Download(ctx context.Context, url string, maxBytes int64) (string, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", "", fmt.Errorf("download: build request: %w", err)
	}
	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("download: fetch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", "", fmt.Errorf("download: status %d", resp.StatusCode)
	}

	f, err := os.CreateTemp(d.TempDir, "scribeflow-download-*")
	if err != nil {
		return "", "", fmt.Errorf("download: create temp file: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	limited := io.LimitReader(resp.Body, maxBytes+1)
	buf := copyBuffers.Get()
	buf = buf[:cap(buf)]
	written, err := io.CopyBuffer(io.MultiWriter(f, h), limited, buf)
	copyBuffers.Put(buf)
	if err != nil {
		os.Remove(f.Name())
		return "", "", fmt.Errorf("download: stream body: %w", err)
	}
	if written > maxBytes {
		os.Remove(f.Name())
		return "", "", ErrDownloadTooLarge
	}
	return f.Name(), hex.EncodeToString(h.Sum(nil)), nil
}

// Transcoder normalizes an input media file to a canonical audio format
// (mono, target sample rate, target codec) via an external tool.
type Transcoder interface {
	Transcode(ctx context.Context, inputPath string) (outputPath, contentType, ext string, err error)
}

// FFmpegTranscoder shells out to the `ffmpeg` binary; transcoding is
// external-tool orchestration, not a reimplemented codec.
type FFmpegTranscoder struct {
	Binary       string
	SampleRateHz int
	OutputExt    string
}

func NewFFmpegTranscoder() *FFmpegTranscoder {
	return &FFmpegTranscoder{Binary: "ffmpeg", SampleRateHz: 16000, OutputExt: "flac"}
}

func (t *FFmpegTranscoder) Transcode(ctx context.Context, inputPath string) (string, string, string, error) {
	binary := t.Binary
	if binary == "" {
		binary = "ffmpeg"
	}
	rate := t.SampleRateHz
	if rate == 0 {
		rate = 16000
	}
	ext := t.OutputExt
	if ext == "" {
		ext = "flac"
	}

	outputPath := strings.TrimSuffix(inputPath, filepath.Ext(inputPath)) + "-normalized." + ext
	cmd := exec.CommandContext(ctx, binary,
		"-y", "-i", inputPath,
		"-ac", "1", "-ar", fmt.Sprint(rate),
		outputPath,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		return "", "", "", fmt.Errorf("transcode: ffmpeg failed: %w: %s", err, string(out))
	}
	return outputPath, "audio/" + ext, ext, nil
}

// fileChecksum computes the sha256 of a local file's contents, used by the
// upload_storage action to build the content-addressed key for a
// transcoded artifact (the download's own hash covers the original file,
// which may differ byte-for-byte from the transcoded one).
func fileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("checksum: open %s: %w", path, err)
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("checksum: read %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

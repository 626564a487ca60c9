package blobstore

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/moby/patternmatcher"
	"github.com/moby/patternmatcher/ignorefile"

	"github.com/TencentBlueKing/blueking-paas-sub003/internal/domain"
	"github.com/TencentBlueKing/blueking-paas-sub003/internal/port"
)

// defaultSizeWarningBytes：压缩包超过该体积时打告警日志。
const defaultSizeWarningBytes = 100 << 20

// TarPackager 把源码目录打成 tar.gz 后上传到 blob store。
// 存在 .dockerignore 时按其模式排除文件。
type TarPackager struct {
	store            port.BlobStore
	sizeWarningBytes int64
}

var _ port.SourcePackager = (*TarPackager)(nil)

func NewTarPackager(store port.BlobStore) *TarPackager {
	return &TarPackager{store: store, sizeWarningBytes: defaultSizeWarningBytes}
}

func (p *TarPackager) PackageAndUpload(ctx context.Context, engineApp *domain.EngineApp, version domain.VersionInfo, sourceDir string) (string, error) {
	matcher, err := loadIgnoreMatcher(sourceDir)
	if err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp("", "source-*.tar.gz")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	if err := writeTarGz(tmp, sourceDir, matcher); err != nil {
		return "", fmt.Errorf("package source dir: %w", err)
	}

	info, err := tmp.Stat()
	if err != nil {
		return "", err
	}
	if info.Size() > p.sizeWarningBytes {
		slog.Warn("source package is unusually large",
			"engine_app", engineApp.Name, "size_bytes", info.Size())
	}

	destPath := SourcePath(engineApp.Region, engineApp.Name, version.VersionName, version.Revision)
	if err := p.store.Upload(ctx, tmp.Name(), destPath); err != nil {
		return "", err
	}
	return destPath, nil
}

// loadIgnoreMatcher 读取源码根目录下的 .dockerignore。不存在时返回 nil。
func loadIgnoreMatcher(sourceDir string) (*patternmatcher.PatternMatcher, error) {
	f, err := os.Open(filepath.Join(sourceDir, ".dockerignore"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	patterns, err := ignorefile.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("parse .dockerignore: %w", err)
	}
	return patternmatcher.New(patterns)
}

func writeTarGz(w io.Writer, sourceDir string, matcher *patternmatcher.PatternMatcher) error {
	gz := gzip.NewWriter(w)
	tw := tar.NewWriter(gz)

	err := filepath.Walk(sourceDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(sourceDir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if matcher != nil {
			excluded, err := matcher.MatchesOrParentMatches(rel)
			if err != nil {
				return err
			}
			if excluded {
				if info.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
		}

		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		header.Name = rel
		if info.IsDir() {
			header.Name += "/"
		}
		if err := tw.WriteHeader(header); err != nil {
			return err
		}
		if info.IsDir() || !info.Mode().IsRegular() {
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return err
	}

	if err := tw.Close(); err != nil {
		return err
	}
	return gz.Close()
}

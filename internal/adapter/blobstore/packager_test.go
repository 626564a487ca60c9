package blobstore

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/TencentBlueKing/blueking-paas-sub003/internal/domain"
)

// captureStore 把上传内容拷到本地，供测试检查归档内容。
type captureStore struct {
	destPath string
	saved    string
}

func (s *captureStore) Upload(_ context.Context, localPath, destPath string) error {
	s.destPath = destPath
	data, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	f, err := os.CreateTemp("", "captured-*.tar.gz")
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return err
	}
	s.saved = f.Name()
	return nil
}

func (s *captureStore) SignDownload(_ context.Context, destPath string, _ time.Duration) (string, error) {
	return "https://signed.example.com/" + destPath, nil
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func listTarEntries(t *testing.T, path string) map[string]bool {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		t.Fatal(err)
	}
	tr := tar.NewReader(gz)
	entries := map[string]bool{}
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		entries[header.Name] = true
	}
	return entries
}

func TestPackageAndUploadRespectsDockerignore(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "app.py", "print('hi')")
	writeFile(t, dir, "requirements.txt", "flask")
	writeFile(t, dir, "node_modules/lodash/index.js", "module.exports = {}")
	writeFile(t, dir, "secret.env", "TOKEN=x")
	writeFile(t, dir, ".dockerignore", "node_modules\n*.env\n")

	store := &captureStore{}
	p := NewTarPackager(store)
	ea := &domain.EngineApp{Name: "bkapp-demo-stag", Region: "default"}
	version := domain.VersionInfo{VersionType: domain.VersionBranch, VersionName: "master", Revision: "abc123"}

	destPath, err := p.PackageAndUpload(context.Background(), ea, version, dir)
	if err != nil {
		t.Fatalf("PackageAndUpload: %v", err)
	}
	defer os.Remove(store.saved)

	if destPath != "default/home/bkapp-demo-stag:master:abc123/tar" {
		t.Errorf("destPath = %q", destPath)
	}
	entries := listTarEntries(t, store.saved)
	if !entries["app.py"] || !entries["requirements.txt"] {
		t.Errorf("源文件缺失：%v", entries)
	}
	if entries["node_modules/lodash/index.js"] || entries["secret.env"] {
		t.Errorf("被忽略的文件进入了归档：%v", entries)
	}
}

func TestPackageAndUploadWithoutDockerignore(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "main.go", "package main")

	store := &captureStore{}
	p := NewTarPackager(store)
	ea := &domain.EngineApp{Name: "bkapp-demo-prod", Region: "default"}

	if _, err := p.PackageAndUpload(context.Background(), ea, domain.VersionInfo{VersionName: "v1", Revision: "r1"}, dir); err != nil {
		t.Fatalf("PackageAndUpload: %v", err)
	}
	defer os.Remove(store.saved)

	entries := listTarEntries(t, store.saved)
	if !entries["main.go"] {
		t.Errorf("entries = %v", entries)
	}
}

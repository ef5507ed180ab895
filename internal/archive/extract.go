package archive

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"sitehost/internal/domain"
)

var (
	ErrInvalidArchive    = errors.New("invalid archive")
	ErrMissingEntryPoint = errors.New("missing required entry point")
	ErrUnsafePath        = errors.New("archive contains unsafe path")
	ErrArchiveTooLarge   = errors.New("archive exceeds limits")
)

// Служебные каталоги, которые добавляет архиватор macOS
const macOSMetadataDir = "__MACOSX/"

// Limits - ограничения на распаковку. Ноль означает "без ограничения".
type Limits struct {
	MaxEntries           int
	MaxUncompressedBytes int64
}

type zipFile struct {
	name string
	file *zip.File
}

// Extract распаковывает zip архив в память и возвращает файлы с путями
// относительно корня сайта. Проверка наличия index.html выполняется до
// чтения содержимого.
func Extract(data []byte, limits Limits) ([]domain.ArchiveEntry, error) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArchive, err)
	}

	files := make([]zipFile, 0, len(reader.File))
	for _, f := range reader.File {
		if f.FileInfo().IsDir() {
			continue
		}

		name, err := normalizePath(f.Name)
		if err != nil {
			return nil, err
		}
		if name == "" || strings.HasPrefix(name, macOSMetadataDir) {
			continue
		}

		files = append(files, zipFile{name: name, file: f})
	}

	if limits.MaxEntries > 0 && len(files) > limits.MaxEntries {
		return nil, fmt.Errorf("%w: %d entries, max %d", ErrArchiveTooLarge, len(files), limits.MaxEntries)
	}

	names := make([]string, len(files))
	for i, f := range files {
		names[i] = f.name
	}
	if !HasEntryPoint(names) {
		return nil, ErrMissingEntryPoint
	}

	root := CommonRoot(names)

	var total int64
	entries := make([]domain.ArchiveEntry, 0, len(files))
	for _, f := range files {
		rel := strings.TrimPrefix(f.name, root)
		if rel == "" {
			continue
		}

		if limits.MaxUncompressedBytes > 0 && total+int64(f.file.UncompressedSize64) > limits.MaxUncompressedBytes {
			return nil, fmt.Errorf("%w: uncompressed size above %d bytes", ErrArchiveTooLarge, limits.MaxUncompressedBytes)
		}

		content, err := readEntry(f.file, limits.MaxUncompressedBytes-total, limits.MaxUncompressedBytes > 0)
		if err != nil {
			return nil, err
		}
		total += int64(len(content))

		entries = append(entries, domain.ArchiveEntry{Path: rel, Content: content})
	}

	return entries, nil
}

func readEntry(f *zip.File, remaining int64, limited bool) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open %s: %v", ErrInvalidArchive, f.Name, err)
	}
	defer rc.Close()

	var r io.Reader = rc
	if limited {
		// заголовок zip может врать о размере, поэтому читаем на байт больше остатка
		r = io.LimitReader(rc, remaining+1)
	}

	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read %s: %v", ErrInvalidArchive, f.Name, err)
	}
	if limited && int64(len(content)) > remaining {
		return nil, fmt.Errorf("%w: uncompressed size exceeded while reading %s", ErrArchiveTooLarge, f.Name)
	}

	return content, nil
}

func normalizePath(name string) (string, error) {
	name = strings.ReplaceAll(name, "\\", "/")
	if strings.HasPrefix(name, "/") {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}

	clean := path.Clean(name)
	if clean == "." {
		return "", nil
	}
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}

	return clean, nil
}

// CleanPath проверяет относительный путь файла, пришедший в запросе
func CleanPath(p string) (string, error) {
	clean, err := normalizePath(p)
	if err != nil {
		return "", err
	}
	if clean == "" {
		return "", fmt.Errorf("%w: empty path", ErrUnsafePath)
	}
	return clean, nil
}

// IsIndexPage сообщает, является ли путь страницей index.html (в любом регистре)
func IsIndexPage(p string) bool {
	lower := strings.ToLower(p)
	return lower == domain.IndexPage || strings.HasSuffix(lower, "/"+domain.IndexPage)
}

// HasEntryPoint проверяет, что среди путей есть index.html
func HasEntryPoint(paths []string) bool {
	for _, p := range paths {
		if IsIndexPage(p) {
			return true
		}
	}
	return false
}

// CommonRoot возвращает общую папку верхнего уровня вида "site/",
// если все файлы лежат в ней, иначе пустую строку
func CommonRoot(paths []string) string {
	if len(paths) == 0 {
		return ""
	}

	var root string
	for i, p := range paths {
		idx := strings.Index(p, "/")
		if idx <= 0 {
			return ""
		}
		segment := p[:idx+1]
		if i == 0 {
			root = segment
			continue
		}
		if segment != root {
			return ""
		}
	}

	return root
}

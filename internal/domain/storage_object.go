package domain

import "time"

// StorageObject - описание объекта в хранилище
type StorageObject struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
	ETag         string    `json:"etag,omitempty"`
}

// ArchiveEntry - файл из распакованного архива, живет только в рамках запроса
type ArchiveEntry struct {
	Path    string
	Content []byte
}

// DirectoryListing - содержимое "папки" при просмотре с разделителем
type DirectoryListing struct {
	Prefix  string          `json:"prefix"`
	Objects []StorageObject `json:"objects"`
	Folders []string        `json:"folders"`
}

// SiteFile - файл в ответах файлового менеджера, путь относительно префикса
type SiteFile struct {
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	ContentType  string    `json:"content_type"`
	LastModified time.Time `json:"last_modified"`
}

type FileListing struct {
	Dir     string     `json:"dir"`
	Files   []SiteFile `json:"files"`
	Folders []string   `json:"folders"`
}

type FileContent struct {
	Path        string
	ContentType string
	Data        []byte
}

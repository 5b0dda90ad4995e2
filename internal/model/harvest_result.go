package model

// HarvestResultDTO 是一次采集请求的响应体。
// ArchiveURL 是归档 zip 的预签名下载地址，上传失败时为空。
type HarvestResultDTO struct {
	Record     HarvestRecord `json:"record"`
	ArchiveURL string        `json:"archiveUrl,omitempty"`
}

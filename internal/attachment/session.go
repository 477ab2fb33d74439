package attachment

import "errors"

var (
	ErrUploadAlreadyFinished  = errors.New("attachment: upload session already finished")
	ErrDownloadAlreadyFinished = errors.New("attachment: download session already finished")
)

// UploadSession tracks a resumable chunked upload against the relay's
// opaque store-and-forward blob API: Start(expected_size) →
// (file_id, upload_id), then a run of Chunk calls, then Finish. The
// relay is not trusted to preserve integrity, so this type only
// tracks offsets — AEAD verification happens in the codec, not here.
type UploadSession struct {
	FileID       string
	UploadID     string
	ExpectedSize uint64
	sentBytes    uint64
	finished     bool
}

// NewUploadSession starts tracking an upload whose file_id/upload_id
// were already assigned by a Start() round trip to the relay.
func NewUploadSession(fileID, uploadID string, expectedSize uint64) *UploadSession {
	return &UploadSession{FileID: fileID, UploadID: uploadID, ExpectedSize: expectedSize}
}

// NextOffset reports the byte offset the next Chunk call should send,
// so a caller resuming after a crash or disconnect can re-derive it
// without keeping separate state.
func (s *UploadSession) NextOffset() uint64 {
	return s.sentBytes
}

// RecordChunkSent advances the session after a Chunk round trip to
// the relay succeeds.
func (s *UploadSession) RecordChunkSent(n int) {
	s.sentBytes += uint64(n)
}

// Remaining reports how many bytes are left to send.
func (s *UploadSession) Remaining() uint64 {
	if s.sentBytes >= s.ExpectedSize {
		return 0
	}
	return s.ExpectedSize - s.sentBytes
}

// ReadyToFinish reports whether every expected byte has been sent.
func (s *UploadSession) ReadyToFinish() bool {
	return s.sentBytes >= s.ExpectedSize
}

// Finish validates the session transferred exactly ExpectedSize bytes
// before a caller issues the Finish(file_id, upload_id, total_size)
// round trip, and marks the session closed.
func (s *UploadSession) Finish() (totalSize uint64, err error) {
	if s.finished {
		return 0, ErrUploadAlreadyFinished
	}
	if s.sentBytes != s.ExpectedSize {
		return 0, ErrSessionSizeMismatch
	}
	s.finished = true
	return s.sentBytes, nil
}

// DownloadSession tracks a resumable chunked download: Start(file_id,
// wipe_after_read) → (download_id, size), then a run of Chunk calls
// until eof.
type DownloadSession struct {
	FileID        string
	DownloadID    string
	TotalSize     uint64
	WipeAfterRead bool
	receivedBytes uint64
	finished      bool
}

// NewDownloadSession starts tracking a download whose download_id/size
// were already assigned by a Start() round trip to the relay.
func NewDownloadSession(fileID, downloadID string, totalSize uint64, wipeAfterRead bool) *DownloadSession {
	return &DownloadSession{FileID: fileID, DownloadID: downloadID, TotalSize: totalSize, WipeAfterRead: wipeAfterRead}
}

// NextOffset reports the byte offset the next Chunk call should
// request.
func (s *DownloadSession) NextOffset() uint64 {
	return s.receivedBytes
}

// RecordChunkReceived advances the session after a Chunk round trip
// returns bytes; eof signals the relay has no more data for this
// download_id regardless of how TotalSize compares.
func (s *DownloadSession) RecordChunkReceived(n int, eof bool) {
	s.receivedBytes += uint64(n)
	if eof {
		s.finished = true
	}
}

// Done reports whether the download has received every expected byte
// or the relay has signalled eof.
func (s *DownloadSession) Done() bool {
	return s.finished || s.receivedBytes >= s.TotalSize
}

// BytesReceived reports how many bytes have arrived so far.
func (s *DownloadSession) BytesReceived() uint64 {
	return s.receivedBytes
}

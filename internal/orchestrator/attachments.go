package orchestrator

import (
	"context"
	"fmt"

	"github.com/jaydenbeard/mi-e2ee-core/internal/attachment"
	"github.com/jaydenbeard/mi-e2ee-core/internal/corecrypto"
	"github.com/jaydenbeard/mi-e2ee-core/internal/wire"
)

// UploadE2eeFileBlob encrypts plaintext under key (generating a fresh
// random key if the caller passes the zero value) and uploads the
// resulting blob, using a single round trip at or under
// attachment.SingleShotThreshold and a resumable chunked upload above
// it. It returns the file id and the key the recipient needs; the
// caller builds the envelope.File for SendChatFile/SendGroupChatFile.
func (c *Client) UploadE2eeFileBlob(ctx context.Context, fileName string, plaintext []byte, key [32]byte) (fileID string, outKey [32]byte, err error) {
	if err := c.requireAuthenticated(); err != nil {
		return "", key, err
	}
	if key == ([32]byte{}) {
		if err := corecrypto.RandomFill(key[:]); err != nil {
			return "", key, newErr(KindCryptoPolicy, "generate file blob key", err)
		}
	}

	if len(plaintext) <= attachment.SingleShotThreshold {
		blob, err := attachment.EncryptSingleShot(key, fileName, plaintext)
		if err != nil {
			return "", key, newErr(KindCryptoPolicy, "encrypt file blob", err)
		}
		id, err := c.uploadSingleShot(ctx, fileName, blob)
		return id, key, err
	}

	blob, err := attachment.EncryptChunkedPadded(key, attachment.DefaultChunkSize, plaintext)
	if err != nil {
		return "", key, newErr(KindCryptoPolicy, "encrypt file blob", err)
	}
	id, err := c.uploadChunked(ctx, fileName, blob)
	return id, key, err
}

func (c *Client) uploadSingleShot(ctx context.Context, fileName string, blob []byte) (string, error) {
	w := wire.NewWriter(2 + len(fileName) + 4 + len(blob))
	w.PutString(fileName)
	w.PutBytes(blob)
	payload, err := c.request(ctx, wire.FrameTypeUploadFileBlob, w.Bytes())
	if err != nil {
		return "", err
	}
	return decodeFileID(payload)
}

func (c *Client) uploadChunked(ctx context.Context, fileName string, blob []byte) (string, error) {
	w := wire.NewWriter(2 + len(fileName) + 8)
	w.PutString(fileName)
	w.PutU64(uint64(len(blob)))
	payload, err := c.request(ctx, wire.FrameTypeStartFileBlobUpload, w.Bytes())
	if err != nil {
		return "", err
	}
	fileID, uploadID, err := decodeUploadStart(payload)
	if err != nil {
		return "", newErr(KindProtocolInvalid, "decode start file blob upload response", err)
	}

	session := attachment.NewUploadSession(fileID, uploadID, uint64(len(blob)))
	for !session.ReadyToFinish() {
		offset := session.NextOffset()
		end := offset + attachment.NetworkTransferUnit
		if end > uint64(len(blob)) {
			end = uint64(len(blob))
		}
		chunk := blob[offset:end]

		cw := wire.NewWriter(4 + len(fileID) + len(uploadID) + 8 + len(chunk))
		cw.PutString(fileID)
		cw.PutString(uploadID)
		cw.PutU64(offset)
		cw.PutBytes(chunk)
		if _, err := c.request(ctx, wire.FrameTypeUploadFileBlobChunk, cw.Bytes()); err != nil {
			return "", err
		}
		session.RecordChunkSent(len(chunk))
	}

	totalSize, err := session.Finish()
	if err != nil {
		return "", newErr(KindProtocolInvalid, "finish file blob upload session", err)
	}
	fw := wire.NewWriter(4 + len(fileID) + len(uploadID) + 8)
	fw.PutString(fileID)
	fw.PutString(uploadID)
	fw.PutU64(totalSize)
	if _, err := c.request(ctx, wire.FrameTypeFinishFileBlobUpload, fw.Bytes()); err != nil {
		return "", err
	}
	return fileID, nil
}

// DownloadE2eeFileBlob retrieves and decrypts a file previously
// uploaded via UploadE2eeFileBlob, dispatching on the blob's own
// version byte to pick the matching codec regardless of whether it was
// uploaded single-shot or chunked.
func (c *Client) DownloadE2eeFileBlob(ctx context.Context, fileID string, key [32]byte) ([]byte, error) {
	if err := c.requireAuthenticated(); err != nil {
		return nil, err
	}

	w := wire.NewWriter(2 + len(fileID))
	w.PutString(fileID)
	payload, err := c.request(ctx, wire.FrameTypeDownloadFileBlob, w.Bytes())
	if err == nil {
		blob, decErr := decodeFileBlob(payload)
		if decErr == nil {
			return decryptFileBlob(key, blob)
		}
	}

	return c.downloadChunked(ctx, fileID, key)
}

func (c *Client) downloadChunked(ctx context.Context, fileID string, key [32]byte) ([]byte, error) {
	w := wire.NewWriter(2 + len(fileID) + 1)
	w.PutString(fileID)
	w.PutU8(0) // wipe_after_read
	payload, err := c.request(ctx, wire.FrameTypeStartFileBlobDownload, w.Bytes())
	if err != nil {
		return nil, err
	}
	downloadID, totalSize, err := decodeDownloadStart(payload)
	if err != nil {
		return nil, newErr(KindProtocolInvalid, "decode start file blob download response", err)
	}

	session := attachment.NewDownloadSession(fileID, downloadID, totalSize, false)
	blob := make([]byte, 0, totalSize)
	for !session.Done() {
		cw := wire.NewWriter(4 + len(fileID) + len(downloadID) + 16)
		cw.PutString(fileID)
		cw.PutString(downloadID)
		cw.PutU64(session.NextOffset())
		cw.PutU64(attachment.NetworkTransferUnit)
		respPayload, err := c.request(ctx, wire.FrameTypeDownloadFileBlobChunk, cw.Bytes())
		if err != nil {
			return nil, err
		}
		chunk, eof, err := decodeDownloadChunk(respPayload)
		if err != nil {
			return nil, newErr(KindProtocolInvalid, "decode file blob chunk response", err)
		}
		blob = append(blob, chunk...)
		session.RecordChunkReceived(len(chunk), eof)
	}

	return decryptFileBlob(key, blob)
}

// decryptFileBlob dispatches on a file blob's version byte to the
// matching attachment codec.
func decryptFileBlob(key [32]byte, blob []byte) ([]byte, error) {
	if len(blob) < len(attachment.Magic)+1 {
		return nil, newErr(KindProtocolInvalid, "file blob too short to contain a header", nil)
	}
	version := attachment.Version(blob[len(attachment.Magic)])
	var plaintext []byte
	var err error
	switch version {
	case attachment.VersionSingleShotRaw, attachment.VersionSingleShotDeflate:
		plaintext, err = attachment.DecryptSingleShot(key, blob)
	case attachment.VersionChunkedUniform:
		plaintext, err = attachment.DecryptChunkedUniform(key, blob)
	case attachment.VersionChunkedPadded:
		plaintext, err = attachment.DecryptChunkedPadded(key, blob)
	default:
		return nil, newErr(KindProtocolInvalid, "unrecognized file blob version", nil)
	}
	if err != nil {
		return nil, newErr(KindResource, "decrypt file blob", err)
	}
	return plaintext, nil
}

func decodeFileID(payload []byte) (string, error) {
	r := wire.NewReader(payload)
	id, err := r.String()
	if err != nil {
		return "", fmt.Errorf("orchestrator: decode file id: %w", err)
	}
	return id, nil
}

func decodeFileBlob(payload []byte) ([]byte, error) {
	r := wire.NewReader(payload)
	blob, err := r.Bytes()
	if err != nil {
		return nil, fmt.Errorf("orchestrator: decode file blob: %w", err)
	}
	return blob, nil
}

func decodeUploadStart(payload []byte) (fileID, uploadID string, err error) {
	r := wire.NewReader(payload)
	fileID, err = r.String()
	if err != nil {
		return "", "", fmt.Errorf("orchestrator: decode upload file id: %w", err)
	}
	uploadID, err = r.String()
	if err != nil {
		return "", "", fmt.Errorf("orchestrator: decode upload id: %w", err)
	}
	return fileID, uploadID, nil
}

func decodeDownloadStart(payload []byte) (downloadID string, totalSize uint64, err error) {
	r := wire.NewReader(payload)
	downloadID, err = r.String()
	if err != nil {
		return "", 0, fmt.Errorf("orchestrator: decode download id: %w", err)
	}
	totalSize, err = r.U64()
	if err != nil {
		return "", 0, fmt.Errorf("orchestrator: decode download total size: %w", err)
	}
	return downloadID, totalSize, nil
}

func decodeDownloadChunk(payload []byte) (chunk []byte, eof bool, err error) {
	r := wire.NewReader(payload)
	chunk, err = r.Bytes()
	if err != nil {
		return nil, false, fmt.Errorf("orchestrator: decode download chunk: %w", err)
	}
	eofByte, err := r.U8()
	if err != nil {
		return nil, false, fmt.Errorf("orchestrator: decode download chunk eof flag: %w", err)
	}
	return chunk, eofByte != 0, nil
}

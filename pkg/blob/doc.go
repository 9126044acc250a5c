// Package blob stores opaque byte blobs for payload externalization.
//
// Large job payload fields are uploaded here before a queue snapshot is
// persisted, and read back when the job runs. Two backends are provided:
// Local (a directory on disk) and S3 (any S3-compatible bucket via
// aws-sdk-go-v2). Keys are slash-separated and must not contain "..".
package blob

package hms

import (
	"time"
)

// RetryBackoff is the sleep between retry attempts in
// RetryUpdateUploadedFile and RetryUpdateCompanionFile,
// overridable by tests so they don't pay wall-clock cost.
var RetryBackoff = time.Second

// RetryUpdateUploadedFile calls update(uf) and retries on a falsy
// (ok=false) result up to retries times with RetryBackoff between
// attempts, exhausting to the last (failed) result. A hard error from
// update is not retried; only a falsy ok triggers a retry.
func RetryUpdateUploadedFile(update func(UploadedFile) (UploadedFile, bool), uf UploadedFile, retries int) UploadedFile {
	result, ok := update(uf)
	for !ok && retries > 0 {
		time.Sleep(RetryBackoff)
		result, ok = update(result)
		retries--
	}
	return result
}

// RetryUpdateCompanionFile is RetryUpdateUploadedFile's twin for
// CompanionFile records.
func RetryUpdateCompanionFile(update func(CompanionFile) (CompanionFile, bool), cf CompanionFile, retries int) CompanionFile {
	result, ok := update(cf)
	for !ok && retries > 0 {
		time.Sleep(RetryBackoff)
		result, ok = update(result)
		retries--
	}
	return result
}

// DefaultMetadataRetries is the default retry budget for metadata
// status updates.
const DefaultMetadataRetries = 5

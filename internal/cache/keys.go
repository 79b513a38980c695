package cache

import "fmt"

const LastBatchKey = "wishjobs:batch:last"

func JobStatusKey(jobID int64) string {
	return fmt.Sprintf("wishjobs:job:%d", jobID)
}

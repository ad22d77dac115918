package cache

import (
	"fmt"
	"time"
)

const (
	UserSubjectKeyPrefix = "user:subject:%s"
	PostsPageKeyPrefix   = "posts:page:v%d:%d"
	ViewVersionKeyPrefix = "view:ver:%s"
)

const (
	UserTTL      = 5 * time.Minute
	PostsPageTTL = 30 * time.Second
)

func UserSubjectKey(subject string) string {
	return fmt.Sprintf(UserSubjectKeyPrefix, subject)
}

func PostsPageKey(version int64, page int) string {
	return fmt.Sprintf(PostsPageKeyPrefix, version, page)
}

func ViewVersionKey(path string) string {
	return fmt.Sprintf(ViewVersionKeyPrefix, path)
}

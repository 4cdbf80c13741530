package kvstore

import (
	"Marginalia/internal/core/quotes"
	"fmt"
	"strings"
)

// Key layout. Sorted-set indexes store one key per member with the score
// zero-padded so byte order matches numeric order; iterating a prefix
// backwards yields newest first.
//
//	post:{id}                                                   post record
//	reply:{id}                                                  reply record
//	index:feed:mostRecent:{score}:{id}                          global recency feed
//	index:parent:{parentId}:quote:{quoteKey}:{sort}:{score}:{id} parent+quote index
//	aggregate:quoteCounts:{parentId}                            quote aggregate
//	index:user:{authorId}:replies:{score}:{id}                  author index
//	index:root:{rootPostId}:replies:{id}                        root membership
//	index:duplicates:{groupId}:{id}                             duplicate group membership
//	size:index:user:{authorId}:replies                          author index size
const scoreWidth = 20

func postKey(id string) []byte  { return []byte("post:" + id) }
func replyKey(id string) []byte { return []byte("reply:" + id) }

func aggregateKey(parentID string) []byte {
	return []byte("aggregate:quoteCounts:" + parentID)
}

func scored(prefix string, score int64, id string) []byte {
	return []byte(fmt.Sprintf("%s%0*d:%s", prefix, scoreWidth, score, id))
}

func feedPrefix() string { return "index:feed:mostRecent:" }

func parentIndexPrefix(parentID string, key quotes.Key, sort string) string {
	return "index:parent:" + parentID + ":quote:" + string(key) + ":" + sort + ":"
}

func userIndexPrefix(authorID string) string { return "index:user:" + authorID + ":replies:" }

func userIndexSizeKey(authorID string) []byte {
	return []byte("size:index:user:" + authorID + ":replies")
}

func rootMembersPrefix(rootPostID string) string { return "index:root:" + rootPostID + ":replies:" }

func duplicateMemberKey(groupID, id string) []byte {
	return []byte("index:duplicates:" + groupID + ":" + id)
}

// memberID returns the trailing id of an index key
func memberID(key []byte) string {
	s := string(key)
	return s[strings.LastIndexByte(s, ':')+1:]
}

// upperBound returns the smallest key greater than every key with prefix.
// All prefixes end in ':' so incrementing the last byte never overflows.
func upperBound(prefix string) []byte {
	b := []byte(prefix)
	b[len(b)-1]++
	return b
}

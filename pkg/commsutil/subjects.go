package commsutil

import (
	"strings"
)

// Bridge subjects. Every bridge topic maps to one subject under SubjectPrefix.
const (
	SubjectPrefix    = "wc.bridge"
	SubjectAllTopics = SubjectPrefix + ".>"

	// HeaderOrigin carries the id of the relay node that mirrored a frame onto the
	// backplane. Frames published by NATS peers carry no origin.
	HeaderOrigin = "Wc-Origin"
)

var subjectReplacer = strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_", "\t", "_")

// BuildTopicSubject builds the subject a bridge topic is published on.
func BuildTopicSubject(topic string) string {
	return SubjectPrefix + "." + subjectReplacer.Replace(topic)
}

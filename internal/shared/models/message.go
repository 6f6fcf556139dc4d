package models

import "fmt"

type MessageID uint8

const (
	MessageIDChoke MessageID = iota
	MessageIDUnchoke
	MessageIDInterested
	MessageIDNotInterested
	MessageIDHave
	MessageIDBitfield
	MessageIDRequest
	MessageIDPiece
)

var messageNames = [...]string{
	MessageIDChoke:         "CHOKE",
	MessageIDUnchoke:       "UNCHOKE",
	MessageIDInterested:    "INTERESTED",
	MessageIDNotInterested: "NOTINTERESTED",
	MessageIDHave:          "HAVE",
	MessageIDBitfield:      "BITFIELD",
	MessageIDRequest:       "REQUEST",
	MessageIDPiece:         "PIECE",
}

func (id MessageID) Valid() bool {
	return int(id) < len(messageNames)
}

func (id MessageID) String() string {
	if !id.Valid() {
		return fmt.Sprintf("MessageID(%d)", uint8(id))
	}
	return messageNames[id]
}

// HeaderLength is the size of the length prefix plus the type byte.
const HeaderLength = 5

type PeerMessage struct {
	ID      MessageID
	Payload []byte
}

// Length is the value carried in the frame's length field.
func (m PeerMessage) Length() int {
	return len(m.Payload) + HeaderLength
}

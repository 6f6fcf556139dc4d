package models

type Piece struct {
	Index int
	Data  []byte
}

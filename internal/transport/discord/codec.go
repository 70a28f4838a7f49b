package discord

type decoder interface {
	Decode(data []byte, pcm []int16) (int, error)
}

type encoder interface {
	Encode(pcm []int16, data []byte) (int, error)
}

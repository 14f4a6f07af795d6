//go:build linux && cgo

package driver

import "fmt"

// recomputeSize picks frame, block and block-count values for a TPACKET ring
// of roughly ringBufferSizeMB megabytes:
//   - frameSize is a multiple of TPACKET_ALIGNMENT
//   - blockSize is a multiple of both pageSize and frameSize
//   - blockSize * numBlocks approximates the requested size
func recomputeSize(ringBufferSizeMB, snapLen, pageSize int) (frameSize, blockSize, numBlocks int, err error) {
	const tpacketAlignment = 16
	const tpacketHdrLen = 52
	const maxBlockSize = 4 << 20
	const targetBlockSize = 1 << 20

	if ringBufferSizeMB <= 0 {
		return 0, 0, 0, fmt.Errorf("ring buffer size must be positive, got %d MB", ringBufferSizeMB)
	}
	if snapLen <= 0 {
		return 0, 0, 0, fmt.Errorf("snap length must be positive, got %d", snapLen)
	}
	if pageSize <= 0 || pageSize%tpacketAlignment != 0 {
		return 0, 0, 0, fmt.Errorf("page size must be a positive multiple of %d, got %d", tpacketAlignment, pageSize)
	}

	frameSize = alignUp(tpacketHdrLen+snapLen, tpacketAlignment)

	blockSize = lcm(pageSize, frameSize)
	if blockSize > maxBlockSize {
		frameSize = alignUp(frameSize, pageSize)
		blockSize = frameSize
	}
	if mult := targetBlockSize / blockSize; mult > 1 {
		blockSize *= mult
	}

	numBlocks = (ringBufferSizeMB << 20) / blockSize
	if numBlocks < 1 {
		numBlocks = 1
	}
	return frameSize, blockSize, numBlocks, nil
}

func alignUp(v, align int) int {
	return ((v + align - 1) / align) * align
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func lcm(a, b int) int {
	if a == 0 || b == 0 {
		return 0
	}
	return (a * b) / gcd(a, b)
}

package knowledge

import "strings"

// DefaultChunkSize is the target chunk length in bytes.
const DefaultChunkSize = 1500

// Chunk splits text into pieces of at most size bytes, breaking at paragraph
// boundaries where possible, then at line ends, then at spaces.
func Chunk(text string, size int) []string {
	if size <= 0 {
		size = DefaultChunkSize
	}
	text = strings.TrimSpace(strings.ReplaceAll(text, "\r\n", "\n"))
	if text == "" {
		return nil
	}

	var chunks []string
	var cur strings.Builder
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			chunks = append(chunks, s)
		}
		cur.Reset()
	}

	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		for _, piece := range splitLong(para, size) {
			if cur.Len() > 0 && cur.Len()+2+len(piece) > size {
				flush()
			}
			if cur.Len() > 0 {
				cur.WriteString("\n\n")
			}
			cur.WriteString(piece)
		}
	}
	flush()
	return chunks
}

// splitLong breaks a paragraph longer than size.
func splitLong(para string, size int) []string {
	var out []string
	for len(para) > size {
		cut := strings.LastIndex(para[:size], "\n")
		if cut <= 0 {
			cut = strings.LastIndex(para[:size], " ")
		}
		if cut <= 0 {
			cut = size
		}
		out = append(out, strings.TrimSpace(para[:cut]))
		para = strings.TrimSpace(para[cut:])
	}
	if para != "" {
		out = append(out, para)
	}
	return out
}

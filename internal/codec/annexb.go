// Package codec scans H.264 and H.265 Annex B byte streams: it splits them
// into NAL units and access units and reads picture dimensions from the
// sequence parameter sets.
package codec

import "github.com/zsiec/lens/internal/media"

// NALUnit is a single NAL unit from an Annex B byte stream.
type NALUnit struct {
	Type   byte   // 5-bit for H.264, 6-bit for H.265
	Data   []byte // NAL header and payload, without start code
	Offset int    // index of the start code in the scanned buffer
}

// scanAnnexB finds NAL units behind 3- and 4-byte start codes. Units shorter
// than headerLen are skipped.
func scanAnnexB(data []byte, headerLen int, nalType func([]byte) byte) []NALUnit {
	n := len(data)
	if n < 4 {
		return nil
	}

	var starts [][2]int // start code index, payload index
	for i := 0; i < n-2; {
		if data[i] == 0 && data[i+1] == 0 {
			if i < n-3 && data[i+2] == 0 && data[i+3] == 1 {
				starts = append(starts, [2]int{i, i + 4})
				i += 4
				continue
			}
			if data[i+2] == 1 {
				starts = append(starts, [2]int{i, i + 3})
				i += 3
				continue
			}
		}
		i++
	}

	units := make([]NALUnit, 0, len(starts))
	for idx, s := range starts {
		end := n
		if idx+1 < len(starts) {
			end = starts[idx+1][0]
		}
		if end-s[1] < headerLen {
			continue
		}
		payload := data[s[1]:end]
		units = append(units, NALUnit{Type: nalType(payload), Data: payload, Offset: s[0]})
	}
	return units
}

// ParseAnnexB parses an H.264 Annex B byte stream into NAL units.
func ParseAnnexB(data []byte) []NALUnit {
	return scanAnnexB(data, 1, func(d []byte) byte { return d[0] & 0x1F })
}

// ParseAnnexBHEVC parses an H.265 Annex B byte stream into NAL units.
func ParseAnnexBHEVC(data []byte) []NALUnit {
	return scanAnnexB(data, 2, func(d []byte) byte { return HEVCNALType(d[0]) })
}

// Parse dispatches to the parser for c.
func Parse(data []byte, c media.CodecType) []NALUnit {
	if c == media.CodecH265 {
		return ParseAnnexBHEVC(data)
	}
	return ParseAnnexB(data)
}

// StartsAccessUnit reports whether nal begins a new access unit: an access
// unit delimiter, a parameter set, SEI, or the first slice of a picture.
func StartsAccessUnit(nal NALUnit, c media.CodecType) bool {
	if c == media.CodecH265 {
		switch {
		case nal.Type == HEVCNALAUD, nal.Type == HEVCNALVPS, nal.Type == HEVCNALSPS,
			nal.Type == HEVCNALPPS, nal.Type == HEVCNALSEIPrefix:
			return true
		case isHEVCVCL(nal.Type):
			return len(nal.Data) > 2 && nal.Data[2]&0x80 != 0 // first_slice_segment_in_pic_flag
		}
		return false
	}
	switch {
	case nal.Type == NALTypeAUD, nal.Type == NALTypeSPS, nal.Type == NALTypePPS, nal.Type == NALTypeSEI:
		return true
	case isH264VCL(nal.Type):
		return len(nal.Data) > 1 && nal.Data[1]&0x80 != 0 // first_mb_in_slice == 0
	}
	return false
}

// SplitAccessUnits cuts an Annex B stream into access units, each keeping
// its start codes. Parameter sets and SEI are grouped with the picture that
// follows them. Bytes before the first start code are dropped.
func SplitAccessUnits(data []byte, c media.CodecType) [][]byte {
	nals := Parse(data, c)
	var (
		units  [][]byte
		start  = -1
		hasVCL bool
		isVCL  = isH264VCL
	)
	if c == media.CodecH265 {
		isVCL = isHEVCVCL
	}
	for _, nal := range nals {
		if start < 0 {
			start = nal.Offset
		} else if hasVCL && StartsAccessUnit(nal, c) {
			units = append(units, data[start:nal.Offset])
			start, hasVCL = nal.Offset, false
		}
		if isVCL(nal.Type) {
			hasVCL = true
		}
	}
	if start >= 0 {
		units = append(units, data[start:])
	}
	return units
}

// Dimensions returns the picture size from the first SPS in data, or false
// if no SPS is present or it cannot be parsed.
func Dimensions(data []byte, c media.CodecType) (width, height int, ok bool) {
	for _, nal := range Parse(data, c) {
		switch {
		case c == media.CodecH265 && nal.Type == HEVCNALSPS:
			info, err := ParseHEVCSPS(nal.Data)
			if err != nil {
				return 0, 0, false
			}
			return info.Width, info.Height, true
		case c != media.CodecH265 && nal.Type == NALTypeSPS:
			info, err := ParseSPS(nal.Data)
			if err != nil {
				return 0, 0, false
			}
			return info.Width, info.Height, true
		}
	}
	return 0, 0, false
}

// HasPicture reports whether data carries at least one slice NAL unit.
func HasPicture(data []byte, c media.CodecType) bool {
	isVCL := isH264VCL
	if c == media.CodecH265 {
		isVCL = isHEVCVCL
	}
	for _, nal := range Parse(data, c) {
		if isVCL(nal.Type) {
			return true
		}
	}
	return false
}

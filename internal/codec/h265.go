package codec

// H.265/HEVC NAL unit types (ITU-T H.265 Table 7-1).
const (
	HEVCNALBlaWLP    = 16
	HEVCNALCraNut    = 21
	HEVCNALVPS       = 32
	HEVCNALSPS       = 33
	HEVCNALPPS       = 34
	HEVCNALAUD       = 35
	HEVCNALSEIPrefix = 39
)

// HEVCNALType extracts the NAL unit type from the first byte of an HEVC
// 2-byte NAL header: forbidden(1) | type(6) | layerID_high(1).
func HEVCNALType(firstByte byte) byte {
	return (firstByte >> 1) & 0x3F
}

// IsHEVCKeyframe returns true if the NAL type represents an HEVC random access
// point (BLA, IDR, or CRA).
func IsHEVCKeyframe(nalType byte) bool {
	return nalType >= HEVCNALBlaWLP && nalType <= HEVCNALCraNut
}

func isHEVCVCL(nalType byte) bool {
	return nalType < 32
}

// HEVCSPSInfo holds the fields of an HEVC SPS the player needs.
type HEVCSPSInfo struct {
	Width           int
	Height          int
	ProfileIDC      byte
	LevelIDC        byte
	ChromaFormatIdc byte
}

// ParseHEVCSPS extracts the conformance-cropped picture size from an HEVC
// SPS NAL unit including its 2-byte NAL header.
func ParseHEVCSPS(nalu []byte) (HEVCSPSInfo, error) {
	if len(nalu) < 4 {
		return HEVCSPSInfo{}, errSPSTooShort
	}
	br := newBitReader(removeEmulationPrevention(nalu[2:]))

	br.u(4) // sps_video_parameter_set_id
	maxSubLayersMinus1 := br.u(3)
	br.u(1) // sps_temporal_id_nesting_flag

	var info HEVCSPSInfo
	skipProfileTierLevel(br, &info, maxSubLayersMinus1)

	br.ue() // sps_seq_parameter_set_id
	chromaFormatIdc := br.ue()
	if chromaFormatIdc == 3 {
		br.u(1) // separate_colour_plane_flag
	}
	width, height := br.ue(), br.ue()

	var left, right, top, bottom uint
	if br.flag() { // conformance_window_flag
		left, right, top, bottom = br.ue(), br.ue(), br.ue(), br.ue()
	}
	if br.err != nil {
		return HEVCSPSInfo{}, br.err
	}

	subWidthC, subHeightC := uint(1), uint(1)
	switch chromaFormatIdc {
	case 1:
		subWidthC, subHeightC = 2, 2
	case 2:
		subWidthC = 2
	}

	info.ChromaFormatIdc = byte(chromaFormatIdc)
	info.Width = int(width - (left+right)*subWidthC)
	info.Height = int(height - (top+bottom)*subHeightC)
	return info, nil
}

// skipProfileTierLevel reads profile_tier_level(1, maxSubLayersMinus1),
// keeping only the general profile and level.
func skipProfileTierLevel(br *bitReader, info *HEVCSPSInfo, maxSubLayersMinus1 uint) {
	br.u(2) // general_profile_space
	br.u(1) // general_tier_flag
	info.ProfileIDC = byte(br.u(5))
	br.u(32) // general_profile_compatibility_flags
	br.u(48) // general_constraint_indicator_flags
	info.LevelIDC = byte(br.u(8))

	if maxSubLayersMinus1 == 0 {
		return
	}
	var profilePresent, levelPresent [8]bool
	for i := uint(0); i < maxSubLayersMinus1; i++ {
		profilePresent[i] = br.flag()
		levelPresent[i] = br.flag()
	}
	for i := maxSubLayersMinus1; i < 8; i++ {
		br.u(2) // reserved_zero_2bits
	}
	for i := uint(0); i < maxSubLayersMinus1; i++ {
		if profilePresent[i] {
			br.u(88)
		}
		if levelPresent[i] {
			br.u(8)
		}
	}
}

package codec

// H.264 NAL unit types (ITU-T H.264 Table 7-1).
const (
	NALTypeSlice = 1
	NALTypeIDR   = 5
	NALTypeSEI   = 6
	NALTypeSPS   = 7
	NALTypePPS   = 8
	NALTypeAUD   = 9
)

// SPSInfo holds the fields of an H.264 SPS the player needs.
type SPSInfo struct {
	Width      int
	Height     int
	ProfileIDC byte
	LevelIDC   byte
}

// highProfiles carry chroma format and scaling matrices in the SPS.
var highProfiles = map[uint]bool{
	100: true, 110: true, 122: true, 244: true, 44: true, 83: true,
	86: true, 118: true, 128: true, 138: true, 139: true, 134: true,
}

// ParseSPS extracts the cropped picture size from an H.264 SPS NAL unit
// (NAL header byte included, start code excluded).
func ParseSPS(nalu []byte) (SPSInfo, error) {
	if len(nalu) < 4 {
		return SPSInfo{}, errSPSTooShort
	}
	br := newBitReader(removeEmulationPrevention(nalu[1:]))

	profileIdc := br.u(8)
	br.u(8) // constraint flags
	levelIdc := br.u(8)
	br.ue() // seq_parameter_set_id

	chromaFormatIdc := uint(1)
	separateColourPlane := false
	if highProfiles[profileIdc] {
		chromaFormatIdc = br.ue()
		if chromaFormatIdc == 3 {
			separateColourPlane = br.flag()
		}
		br.ue()        // bit_depth_luma_minus8
		br.ue()        // bit_depth_chroma_minus8
		br.u(1)        // qpprime_y_zero_transform_bypass_flag
		if br.flag() { // seq_scaling_matrix_present_flag
			lists := 8
			if chromaFormatIdc == 3 {
				lists = 12
			}
			for i := 0; i < lists; i++ {
				if br.flag() {
					size := 16
					if i >= 6 {
						size = 64
					}
					br.skipScalingList(size)
				}
			}
		}
	}

	br.ue()          // log2_max_frame_num_minus4
	switch br.ue() { // pic_order_cnt_type
	case 0:
		br.ue()
	case 1:
		br.u(1)
		br.se()
		br.se()
		n := br.ue()
		for i := uint(0); i < n && br.err == nil; i++ {
			br.se()
		}
	}
	br.ue() // max_num_ref_frames
	br.u(1) // gaps_in_frame_num_value_allowed_flag

	widthMbs := br.ue() + 1
	heightMapUnits := br.ue() + 1
	frameMbsOnly := br.u(1)
	if frameMbsOnly == 0 {
		br.u(1) // mb_adaptive_frame_field_flag
	}
	br.u(1) // direct_8x8_inference_flag

	var cropLeft, cropRight, cropTop, cropBottom uint
	if br.flag() {
		cropLeft, cropRight, cropTop, cropBottom = br.ue(), br.ue(), br.ue(), br.ue()
	}
	if br.err != nil {
		return SPSInfo{}, br.err
	}

	subWidthC, subHeightC := uint(2), uint(2)
	switch {
	case separateColourPlane || chromaFormatIdc == 0 || chromaFormatIdc == 3:
		subWidthC, subHeightC = 1, 1
	case chromaFormatIdc == 2:
		subHeightC = 1
	}
	cropUnitY := subHeightC * (2 - frameMbsOnly)

	return SPSInfo{
		Width:      int(widthMbs*16 - subWidthC*(cropLeft+cropRight)),
		Height:     int(heightMapUnits*16*(2-frameMbsOnly) - cropUnitY*(cropTop+cropBottom)),
		ProfileIDC: byte(profileIdc),
		LevelIDC:   byte(levelIdc),
	}, nil
}

// IsKeyframe returns true if the NAL type is an IDR slice.
func IsKeyframe(nalType byte) bool {
	return nalType == NALTypeIDR
}

// isH264VCL reports whether the NAL type carries slice data.
func isH264VCL(nalType byte) bool {
	return nalType >= NALTypeSlice && nalType <= NALTypeIDR
}

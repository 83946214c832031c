package common

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

//go:generate go run github.com/dmarkham/enumer -json -type Constellation

// Constellation defines the kind of satellites
type Constellation int

const (
	Unknown   Constellation = iota
	Sentinel1               // MMM_BB_TTTR_LFPP_YYYYMMDDTHHMMSS_YYYMMDDTHHMMSS_OOOOOO_DDDDDD_CCCC.SAFE
	Sentinel2               // MMM_MSIXXX_YYYYMMDDTHHMMSS_Nxxyy_ROOO_Txxxxx_<Product Discriminator>.SAFE
	Landsat89               // LXSS_LLLL_PPPRRR_YYYYMMDD_yyyymmdd_CX_TX
)

var landsatRe = regexp.MustCompile("^L[OTC]0[89]")

// GetConstellationFromProductId guesses the constellation from a product identifier.
func GetConstellationFromProductId(sourceID string) Constellation {
	if strings.HasPrefix(sourceID, "S1") {
		return Sentinel1
	}
	if strings.HasPrefix(sourceID, "S2") {
		return Sentinel2
	}
	if landsatRe.MatchString(sourceID) {
		return Landsat89
	}
	return Unknown
}

// GetDateFromProductId derives the acquisition date from a product identifier
// of a known constellation.
func GetDateFromProductId(sourceID string) (time.Time, error) {
	format, err := Info(sourceID)
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse("20060102", fmt.Sprintf("%s%s%s", format["YEAR"], format["MONTH"], format["DAY"]))
}

// Info decomposes a product identifier into its named parts.
// Keys depend on the constellation; SCENE, MISSION_ID, DATE (YEAR/MONTH/DAY)
// are always present.
func Info(sourceID string) (map[string]string, error) {
	switch GetConstellationFromProductId(sourceID) {
	case Sentinel1:
		if len(sourceID) < len("MMM_BB_TTTR_LFPP_YYYYMMDDTHHMMSS_YYYYMMDDTHHMMSS_OOOOOO_DDDDDD_CCCC") {
			return nil, fmt.Errorf("invalid Sentinel1 file name: " + sourceID)
		}
		return map[string]string{
			"SCENE":      sourceID,
			"MISSION_ID": sourceID[0:3],
			"MODE":       sourceID[4:6],
			"DATE":       sourceID[17:25],
			"YEAR":       sourceID[17:21],
			"MONTH":      sourceID[21:23],
			"DAY":        sourceID[23:25],
			"TIME":       sourceID[26:32],
			"ORBIT":      sourceID[49:55],
		}, nil
	case Sentinel2:
		if len(sourceID) < len("MMM_MSIXXX_YYYYMMDDTHHMMSS_Nxxyy_ROOO_Txxxxx_<Product Disc.>") {
			return nil, fmt.Errorf("invalid Sentinel2 file name: " + sourceID)
		}
		if sourceID[10] != '_' {
			return nil, fmt.Errorf("unsupported Sentinel2 file name: " + sourceID)
		}
		return map[string]string{
			"SCENE":      sourceID,
			"MISSION_ID": sourceID[0:3],
			"DATE":       sourceID[11:19],
			"YEAR":       sourceID[11:15],
			"MONTH":      sourceID[15:17],
			"DAY":        sourceID[17:19],
			"TIME":       sourceID[20:26],
			"ORBIT":      sourceID[34:37],
			"TILE":       sourceID[38:44],
		}, nil
	case Landsat89:
		// LC09_L1GT_166003_20250603_20250603_02_T2
		if len(sourceID) < len("LXSS_LLLL_PPPRRR_YYYYMMDD_yyyymmdd_CX_TX") {
			return nil, fmt.Errorf("invalid Landsat8/9 file name: " + sourceID)
		}
		return map[string]string{
			"SCENE":      sourceID,
			"MISSION_ID": sourceID[0:1] + sourceID[2:4],
			"DATE":       sourceID[17:25],
			"YEAR":       sourceID[17:21],
			"MONTH":      sourceID[21:23],
			"DAY":        sourceID[23:25],
			"PATH":       sourceID[10:13],
			"ROW":        sourceID[13:16],
		}, nil
	}
	return nil, fmt.Errorf("Info: constellation not supported")
}

// FormatBrackets replaces in str all {keys} by the corresponding value of infos.
func FormatBrackets(str string, infos ...map[string]string) string {
	for _, info := range infos {
		for k, v := range info {
			str = strings.ReplaceAll(str, "{"+k+"}", v)
		}
	}
	return str
}

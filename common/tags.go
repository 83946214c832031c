package common

// Scene tags
const (
	TagSourceID             = "sourceID"
	TagUUID                 = "uuid"
	TagIngestionDate        = "ingestionDate"
	TagConstellation        = "constellation"
	TagProductType          = "productType"
	TagDownloadURL          = "downloadURL"
	TagCloudCoverPercentage = "cloudCoverPercentage"
)

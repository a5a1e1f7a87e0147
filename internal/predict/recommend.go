package predict

// Recommendations assembles user-facing advice from the risk level plus
// signal-specific additions, capped at five entries.
func Recommendations(level Level, signals []Signal) []string {
	var recs []string
	switch level {
	case LevelHigh:
		recs = append(recs,
			"Do not enter personal information or credentials on this site",
			"This URL shows multiple phishing indicators",
			"Verify the official URL of the service you are looking for",
		)
	case LevelMedium:
		recs = append(recs,
			"Proceed with caution",
			"Verify the authenticity of the site before entering any data",
			"Consider contacting the service through its official channels",
		)
	case LevelSafe:
		recs = append(recs,
			"This URL looks safe",
			"No phishing indicators were detected",
		)
	default:
		recs = append(recs,
			"The URL looks safe, but stay alert",
			"Make sure the site uses HTTPS before entering sensitive data",
		)
	}

	for _, s := range signals {
		switch s.ID {
		case SigURLShortener:
			recs = append(recs, "Expand the shortened URL before visiting it")
		case SigBrandImpersonation:
			recs = append(recs, "This site appears to impersonate a brand; check the official URL")
		case SigVTMaliciousLow, SigVTMaliciousMed, SigVTMaliciousHigh, SigVTMaliciousCritical:
			recs = append(recs, "Antivirus engines have flagged this URL as malicious")
		case SigDomainTooNew:
			recs = append(recs, "The domain is very recent; distrust unsolicited links to it")
		}
	}

	if len(recs) > 5 {
		recs = recs[:5]
	}
	return recs
}

package version

// Version is the current version of the mediation server
const Version = "0.1.0"

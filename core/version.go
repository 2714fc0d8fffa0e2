package core

// Version is the parcel library version reported to repositories.
const Version = "0.9.0"
